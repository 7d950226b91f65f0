package logic

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wren/shared"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../test/mocks/mock_metrics.go -package mocks wren/logic IMetrics,IRequestObserver

type IMetrics interface {
	StartWebRequestIn(label string) IRequestObserver
	StartApubRequestIn(label string) IRequestObserver
	StartApubRequestOut(label string) IRequestObserver
	ActivityIn(kind string)
	ActivityIgnored()
	StatusSaved()
	StatusDeleted()
	DeliveryFailed()
	ServiceStarted()
	TotalFollowers(count int)
}

type IRequestObserver interface {
	Finish()
}

type metrics struct {
	cfg               *shared.Config
	webRequestsIn     *prometheus.HistogramVec
	apubRequestsIn    *prometheus.HistogramVec
	apubRequestsOut   *prometheus.HistogramVec
	activitiesIn      *prometheus.CounterVec
	activitiesIgnored prometheus.Counter
	statusesSaved     prometheus.Counter
	statusesDeleted   prometheus.Counter
	deliveriesFailed  prometheus.Counter
	serviceStarted    prometheus.Counter
	totalFollowers    prometheus.Gauge
}

func NewMetrics(cfg *shared.Config) IMetrics {

	res := metrics{}
	res.cfg = cfg

	res.webRequestsIn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "web_requests_in_duration",
		Help: "Duration in seconds of Web requests served.",
	}, []string{"label"})
	prometheus.Register(res.webRequestsIn)

	res.apubRequestsIn = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "apub_requests_in_duration",
		Help: "Duration in seconds of ActivityPub requests served.",
	}, []string{"label"})
	prometheus.Register(res.apubRequestsIn)

	res.apubRequestsOut = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "apub_requests_out_duration",
		Help: "Duration in seconds of ActivityPub requests made.",
	}, []string{"label"})
	prometheus.Register(res.apubRequestsOut)

	res.activitiesIn = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "activities_in",
		Help: "Number of inbound activities dispatched, by kind",
	}, []string{"kind"})
	prometheus.Register(res.activitiesIn)

	res.activitiesIgnored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activities_ignored",
		Help: "Number of inbound activities dropped without effect",
	})
	prometheus.Register(res.activitiesIgnored)

	res.statusesSaved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statuses_saved",
		Help: "Number of statuses saved",
	})
	prometheus.Register(res.statusesSaved)

	res.statusesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "statuses_deleted",
		Help: "Number of statuses deleted, replies included",
	})
	prometheus.Register(res.statusesDeleted)

	res.deliveriesFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deliveries_failed",
		Help: "Number of outbound activity deliveries that failed",
	})
	prometheus.Register(res.deliveriesFailed)

	res.serviceStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "service_started",
		Help: "Service has started up",
	})
	prometheus.Register(res.serviceStarted)

	res.totalFollowers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "total_follower_count",
		Help: "Total follower count of local accounts",
	})
	prometheus.Register(res.totalFollowers)

	return &res
}

type requestObserver struct {
	label string
	start time.Time
	hgvec *prometheus.HistogramVec
}

func (ro *requestObserver) Finish() {
	now := time.Now()
	elapsed := float64(now.UnixMilli()-ro.start.UnixMilli()) / 1000.0
	ro.hgvec.WithLabelValues(ro.label).Observe(elapsed)
}

func (m *metrics) StartWebRequestIn(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.webRequestsIn}
}

func (m *metrics) StartApubRequestIn(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.apubRequestsIn}
}

func (m *metrics) StartApubRequestOut(label string) IRequestObserver {
	return &requestObserver{label, time.Now(), m.apubRequestsOut}
}

func (m *metrics) ActivityIn(kind string) {
	m.activitiesIn.WithLabelValues(kind).Add(1)
}

func (m *metrics) ActivityIgnored() {
	m.activitiesIgnored.Add(1)
}

func (m *metrics) StatusSaved() {
	m.statusesSaved.Add(1)
}

func (m *metrics) StatusDeleted() {
	m.statusesDeleted.Add(1)
}

func (m *metrics) DeliveryFailed() {
	m.deliveriesFailed.Add(1)
}

func (m *metrics) ServiceStarted() {
	m.serviceStarted.Add(1)
}

func (m *metrics) TotalFollowers(count int) {
	m.totalFollowers.Set(float64(count))
}
