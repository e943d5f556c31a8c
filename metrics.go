package tubes

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "rr_tubes"
)

type statsExporter struct {
	jobsCounter             *prometheus.CounterVec
	pushCounter             *prometheus.CounterVec
	pushJobLatencyHistogram *prometheus.HistogramVec

	watchersTotalDesc   *prometheus.Desc
	watchersWorkingDesc *prometheus.Desc
	watcherStateDesc    *prometheus.Desc
	watcherJobsDesc     *prometheus.Desc

	watchers Informer
}

func newStatsExporter(watchers Informer) *statsExporter {
	return &statsExporter{
		jobsCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Number of jobs handled by the watchers, by outcome (ok, err, buried, released, delayed)",
		}, []string{"tube", "outcome"}),

		pushCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_total",
			Help:      "Number of spawned jobs, by status (ok, err)",
		}, []string{"tube", "status"}),

		pushJobLatencyHistogram: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: prometheus.BuildFQName(namespace, "", "push_latency"),
			Help: "Histogram represents latency for spawn operation",
		}, []string{"tube"}),

		watchersTotalDesc:   prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "watchers_total"), "Total number of watchers", nil, nil),
		watchersWorkingDesc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "watchers_working"), "Watchers currently running a job", nil, nil),
		watcherStateDesc:    prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "watcher_working"), "Watcher current state, 1 when running a job", []string{"tube", "watcher"}, nil),
		watcherJobsDesc:     prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "watcher_jobs"), "Number of jobs processed by the watcher", []string{"tube", "watcher"}, nil),

		watchers: watchers,
	}
}

func (se *statsExporter) jobOk(tube string) {
	se.jobsCounter.WithLabelValues(tube, "ok").Inc()
}

func (se *statsExporter) jobErr(tube string) {
	se.jobsCounter.WithLabelValues(tube, "err").Inc()
}

func (se *statsExporter) jobBuried(tube string) {
	se.jobsCounter.WithLabelValues(tube, "buried").Inc()
}

func (se *statsExporter) jobReleased(tube string) {
	se.jobsCounter.WithLabelValues(tube, "released").Inc()
}

func (se *statsExporter) jobDelayed(tube string) {
	se.jobsCounter.WithLabelValues(tube, "delayed").Inc()
}

func (se *statsExporter) observePush(tube string, start time.Time, err error) {
	se.pushJobLatencyHistogram.WithLabelValues(tube).Observe(time.Since(start).Seconds())

	if err != nil {
		se.pushCounter.WithLabelValues(tube, "err").Inc()
		return
	}
	se.pushCounter.WithLabelValues(tube, "ok").Inc()
}

func (se *statsExporter) Describe(d chan<- *prometheus.Desc) {
	d <- se.watchersTotalDesc
	d <- se.watchersWorkingDesc
	d <- se.watcherStateDesc
	d <- se.watcherJobsDesc

	se.jobsCounter.Describe(d)
	se.pushCounter.Describe(d)
	se.pushJobLatencyHistogram.Describe(d)
}

func (se *statsExporter) Collect(ch chan<- prometheus.Metric) {
	states := se.watchers.Watchers()

	var working float64
	for i := 0; i < len(states); i++ {
		var state float64
		if states[i].Working {
			state = 1
			working++
		}

		idx := strconv.Itoa(states[i].Index)
		ch <- prometheus.MustNewConstMetric(se.watcherStateDesc, prometheus.GaugeValue, state, states[i].Tube, idx)
		ch <- prometheus.MustNewConstMetric(se.watcherJobsDesc, prometheus.CounterValue, float64(states[i].Processed), states[i].Tube, idx)
	}

	ch <- prometheus.MustNewConstMetric(se.watchersTotalDesc, prometheus.GaugeValue, float64(len(states)))
	ch <- prometheus.MustNewConstMetric(se.watchersWorkingDesc, prometheus.GaugeValue, working)

	se.jobsCounter.Collect(ch)
	se.pushCounter.Collect(ch)
	se.pushJobLatencyHistogram.Collect(ch)
}
