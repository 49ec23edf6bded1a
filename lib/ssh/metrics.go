// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus counters exported by this package, registered against the
// default registry at package init. A caller that never scrapes
// metrics pays only the cost of three idle counters.
var (
	kexAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ssh_kex_attempts_total",
		Help: "Key exchanges attempted, by algorithm and outcome.",
	}, []string{"algorithm", "outcome"})

	authFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ssh_auth_failures_total",
		Help: "Authentication attempts that did not succeed, by method.",
	}, []string{"method"})

	disconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ssh_disconnects_total",
		Help: "Fatal disconnects issued, by RFC 4253 reason code.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(kexAttemptsTotal, authFailuresTotal, disconnectsTotal)
}

func recordKexAttempt(algorithm string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	kexAttemptsTotal.WithLabelValues(algorithm, outcome).Inc()
}

func recordAuthFailure(method string) {
	authFailuresTotal.WithLabelValues(method).Inc()
}

func recordDisconnect(reason uint32) {
	disconnectsTotal.WithLabelValues(disconnectReasonName(reason)).Inc()
}

func disconnectReasonName(reason uint32) string {
	switch reason {
	case DisconnectProtocolError:
		return "protocol_error"
	case DisconnectKeyExchangeFailed:
		return "key_exchange_failed"
	case DisconnectMACError:
		return "mac_error"
	case DisconnectCompressionError:
		return "compression_error"
	case DisconnectServiceNotAvailable:
		return "service_not_available"
	case DisconnectProtocolVersionNotSupport:
		return "protocol_version_not_supported"
	case DisconnectConnectionLost:
		return "connection_lost"
	case DisconnectByApplication:
		return "by_application"
	default:
		return "unknown"
	}
}
