package jwtx

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const resultOK = "ok"

// Metrics counts issuance and verification outcomes. A nil *Metrics records nothing.
type Metrics struct {
	TokensIssued   *prometheus.CounterVec
	TokensVerified *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		TokensIssued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kotomi_jwt_tokens_issued_total",
				Help: "Total number of token issue attempts.",
			},
			[]string{"algorithm", "result"},
		),
		TokensVerified: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kotomi_jwt_tokens_verified_total",
				Help: "Total number of token verifications by outcome.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observeIssue(alg Algorithm, err error) {
	if m == nil {
		return
	}
	m.TokensIssued.WithLabelValues(string(alg), result(err)).Inc()
}

func (m *Metrics) observeVerify(err error) {
	if m == nil {
		return
	}
	m.TokensVerified.WithLabelValues(result(err)).Inc()
}

// result labels err by its code so label cardinality stays bounded.
func result(err error) string {
	if err == nil {
		return resultOK
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return string(ErrCodeInternal)
}
