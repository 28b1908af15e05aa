package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusProvider_Counter_ReusedByNameAndAccumulates(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(reg, "trackproc")

	c1 := p.Counter("events_accepted")
	c2 := p.Counter("events_accepted")
	c1.Add(2)
	c2.Add(3)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather returned error: %v", err)
	}
	found := findMetricFamily(mfs, "trackproc_events_accepted")
	if found == nil {
		t.Fatal("expected a registered metric family for trackproc_events_accepted")
	}
	if got := found.Metric[0].Counter.GetValue(); got != 5 {
		t.Fatalf("counter value = %v; want 5", got)
	}
}

func TestPrometheusProvider_UpDownCounter_MovesBothDirections(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(reg, "trackproc")

	g := p.UpDownCounter("segments_active")
	g.Add(3)
	g.Add(-1)

	mfs, _ := reg.Gather()
	found := findMetricFamily(mfs, "trackproc_segments_active")
	if found == nil {
		t.Fatal("expected a registered metric family for trackproc_segments_active")
	}
	if got := found.Metric[0].Gauge.GetValue(); got != 2 {
		t.Fatalf("gauge value = %v; want 2", got)
	}
}

func TestPrometheusProvider_Histogram_RecordsObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheusProvider(reg, "trackproc")

	h := p.Histogram("batch_size")
	h.Record(1)
	h.Record(2)
	h.Record(3)

	mfs, _ := reg.Gather()
	found := findMetricFamily(mfs, "trackproc_batch_size")
	if found == nil {
		t.Fatal("expected a registered metric family for trackproc_batch_size")
	}
	if got := found.Metric[0].Histogram.GetSampleCount(); got != 3 {
		t.Fatalf("sample count = %d; want 3", got)
	}
}

func TestMetricName_ReplacesDotsWithUnderscores(t *testing.T) {
	if got := metricName("trackproc.events.accepted"); got != "trackproc_events_accepted" {
		t.Fatalf("metricName = %q; want %q", got, "trackproc_events_accepted")
	}
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}
