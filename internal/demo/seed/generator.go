package seed

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05"

// Columns is the CSV header the generator writes. It is a subset of the
// incident registry using the display-style names upload headers carry.
var Columns = []string{
	"Incident ID", "Ticket ID", "Client Name", "Link Name NTTN", "Issue Type",
	"Client Priority", "Problem Category", "Problem Source", "Reason",
	"Event Time", "Escalation Time", "Clear Time", "Duration", "Fault Status",
	"Subcenter", "Region", "District", "Vendor", "Provider",
}

var (
	problemCategories = []string{"Link Down", "Latency", "Packet Loss", "Flapping", "Power Issue"}
	problemSources    = []string{"Fiber", "Power", "Equipment", "Client Premises", "Third Party"}
	issueTypes        = []string{"Service Down", "Service Degraded", "Intermittent"}
	priorities        = []string{"P1", "P2", "P3"}
	regions           = map[string][]string{
		"Dhaka":      {"Dhaka", "Gazipur", "Narayanganj"},
		"Chattogram": {"Chattogram", "Cox's Bazar", "Feni"},
		"Khulna":     {"Khulna", "Jessore", "Satkhira"},
		"Rajshahi":   {"Rajshahi", "Bogura", "Pabna"},
	}
	regionNames = []string{"Dhaka", "Chattogram", "Khulna", "Rajshahi"}
	vendors     = []string{"Huawei", "Nokia", "ZTE", "Cisco"}
	providers   = []string{"Summit", "Fiber@Home", "BTCL"}
	reasons     = map[string][]string{
		"Fiber":           {"fiber cut due to road construction", "fiber bend at joint closure", "rodent damage on aerial fiber"},
		"Power":           {"commercial power outage", "rectifier failure", "generator out of fuel"},
		"Equipment":       {"SFP module failure", "line card reboot", "router memory exhaustion"},
		"Client Premises": {"client router powered off", "LAN cable unplugged at client end"},
		"Third Party":     {"upstream provider maintenance", "IIG link congestion"},
	}
)

// Generator produces synthetic incident rows. The same seed yields the same
// rows.
type Generator struct {
	rnd      *rand.Rand
	tenants  []string
	sequence int64
	now      func() time.Time
}

func NewGenerator(seed int64, tenants []string) *Generator {
	return &Generator{
		rnd:     rand.New(rand.NewSource(seed)),
		tenants: append([]string(nil), tenants...),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NextRow returns one record aligned with Columns.
func (g *Generator) NextRow() []string {
	g.sequence++
	tenant := pickOne(g.rnd, g.tenants)
	prefix := tenantPrefix(tenant)
	source := pickOne(g.rnd, problemSources)
	region := pickOne(g.rnd, regionNames)

	eventAt := g.now().Add(-time.Duration(g.rnd.Intn(30*24*60)) * time.Minute).Truncate(time.Minute)
	escalatedAt := eventAt.Add(time.Duration(5+g.rnd.Intn(55)) * time.Minute)
	outage := time.Duration(15+g.rnd.Intn(12*60)) * time.Minute

	status := "Closed"
	clearTime := eventAt.Add(outage).Format(timeLayout)
	duration := formatDuration(outage)
	if g.rnd.Intn(10) == 0 {
		status = "Open"
		clearTime = ""
		duration = ""
	}

	return []string{
		fmt.Sprintf("%s-INC-%06d", prefix, g.sequence),
		fmt.Sprintf("TKT-%08d", 10000000+g.sequence),
		tenant,
		fmt.Sprintf("%s-%s-LINK-%03d", prefix, strings.ToUpper(region[:3]), g.rnd.Intn(200)+1),
		pickOne(g.rnd, issueTypes),
		pickOne(g.rnd, priorities),
		pickOne(g.rnd, problemCategories),
		source,
		pickOne(g.rnd, reasons[source]),
		eventAt.Format(timeLayout),
		escalatedAt.Format(timeLayout),
		clearTime,
		duration,
		status,
		region + " Subcenter",
		region,
		pickOne(g.rnd, regions[region]),
		pickOne(g.rnd, vendors),
		pickOne(g.rnd, providers),
	}
}

// WriteCSV writes a header and count rows.
func (g *Generator) WriteCSV(w io.Writer, count int) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := 0; i < count; i++ {
		if err := writer.Write(g.NextRow()); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func tenantPrefix(tenant string) string {
	letters := make([]rune, 0, 2)
	for _, r := range strings.ToUpper(tenant) {
		if r >= 'A' && r <= 'Z' {
			letters = append(letters, r)
		}
		if len(letters) == 2 {
			break
		}
	}
	if len(letters) == 0 {
		return "XX"
	}
	return string(letters)
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%02d:%02d:00", hours, minutes)
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
