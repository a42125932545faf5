package schema

const IncidentTable = "incidents"

var incidentColumns = []Column{
	{Name: "incident_id", Role: RoleIdentifier},
	{Name: "incident_title", Role: RoleField},
	{Name: "ticket_id", Role: RoleIdentifier},
	{Name: "ticket_title", Role: RoleField},
	{Name: "fault_id", Role: RoleField},
	{Name: "client_name", Role: RoleTenant},
	{Name: "link_name_nttn", Role: RoleLink},
	{Name: "link_name_gateway", Role: RoleField},
	{Name: "link_id", Role: RoleField},
	{Name: "LH", Role: RoleField},
	{Name: "capacity_nttn", Role: RoleField},
	{Name: "capacity_gateway", Role: RoleField},
	{Name: "uni_nni", Role: RoleField},
	{Name: "issue_type", Role: RoleField},
	{Name: "client_priority", Role: RoleField},
	{Name: "link_type", Role: RoleField},
	{Name: "problem_category", Role: RoleField},
	{Name: "problem_source", Role: RoleField},
	{Name: "reason", Role: RoleField},
	{Name: "event_time", Role: RoleTimestamp},
	{Name: "escalation_time", Role: RoleTimestamp},
	{Name: "clear_time", Role: RoleTimestamp},
	{Name: "client_side_impact", Role: RoleField},
	{Name: "provider_side_impact", Role: RoleField},
	{Name: "remarks", Role: RoleField},
	{Name: "responsible_concern", Role: RoleField},
	{Name: "responsible_field_team", Role: RoleField},
	{Name: "fault_status", Role: RoleField},
	{Name: "created_time", Role: RoleTimestamp},
	{Name: "task_comments", Role: RoleField},
	{Name: "client_comments", Role: RoleField},
	{Name: "provider", Role: RoleField},
	{Name: "task_resolutions", Role: RoleField},
	{Name: "subcenter", Role: RoleField},
	{Name: "region", Role: RoleField},
	{Name: "district", Role: RoleField},
	{Name: "vendor", Role: RoleField},
	{Name: "duration", Role: RoleField},
	{Name: "last_om_comment_id", Role: RoleField},
	{Name: "last_om_end_time", Role: RoleTimestamp},
	{Name: "last_om_end_time_db", Role: RoleField},
	{Name: "ticket_initiator_id", Role: RoleField},
	{Name: "ticket_closer_id", Role: RoleField},
	{Name: "fault_closer_id", Role: RoleField},
	{Name: "sms_time", Role: RoleTimestamp},
	{Name: "force_majeure", Role: RoleField},
	{Name: "vlan_id", Role: RoleField},
	{Name: "assigned_dept_names", Role: RoleField},
	{Name: "number_of_occurance", Role: RoleField},
}

var incidents = New(Definition{
	Table:         IncidentTable,
	Columns:       incidentColumns,
	RecencyColumn: "event_time",
	KeyColumns: []string{
		"incident_id", "ticket_id", "client_name", "link_name_nttn",
		"issue_type", "problem_category", "fault_status", "event_time",
		"clear_time", "duration", "region", "district",
	},
	SummaryColumns: []string{
		"client_name", "link_name_nttn", "reason", "escalation_time",
		"subcenter", "district", "event_time", "clear_time", "duration",
	},
})

// Incidents returns the registry for the NOC incident table.
func Incidents() *Registry {
	return incidents
}
