// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"crypto/tls"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/communicator/http/internal"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/models"
	"github.com/TelemetryDeck/TelemetryViewer-sub001/pkg/tools/latency"
)

const latencyWindow = 5 * time.Minute

// Latencies summarizes request timings of the last five minutes.
type Latencies struct {
	FirstByte models.Latency `json:"firstByte"`
	DNS       models.Latency `json:"dns"`
	TLS       models.Latency `json:"tls"`
	Conn      models.Latency `json:"conn"`
	Server    models.Latency `json:"server"`
	Network   models.Latency `json:"network"`
}

type latencyWindows struct {
	firstByte *latency.Window
	dns       *latency.Window
	tls       *latency.Window
	conn      *latency.Window
	server    *latency.Window
	network   *latency.Window
}

func newLatencyWindows() *latencyWindows {
	return &latencyWindows{
		firstByte: latency.NewWindow(latencyWindow),
		dns:       latency.NewWindow(latencyWindow),
		tls:       latency.NewWindow(latencyWindow),
		conn:      latency.NewWindow(latencyWindow),
		server:    latency.NewWindow(latencyWindow),
		network:   latency.NewWindow(latencyWindow),
	}
}

// Latencies returns the current latency summary.
func (c *Client) Latencies() Latencies {
	return Latencies{
		FirstByte: latency.Summarize(c.latencies.firstByte),
		DNS:       latency.Summarize(c.latencies.dns),
		TLS:       latency.Summarize(c.latencies.tls),
		Conn:      latency.Summarize(c.latencies.conn),
		Server:    latency.Summarize(c.latencies.server),
		Network:   latency.Summarize(c.latencies.network),
	}
}

type requestTimings struct {
	start     time.Time
	firstByte time.Duration
	dns       time.Duration
	tls       time.Duration
	conn      time.Duration
}

// trace records the timings of one request. Reused connections skip DNS, connect and TLS.
func (t *requestTimings) trace() *httptrace.ClientTrace {
	var dnsStart, tlsStart, connStart time.Time

	return &httptrace.ClientTrace{
		DNSStart:          func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { t.dns = time.Since(dnsStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(tls.ConnectionState, error) { t.tls = time.Since(tlsStart) },
		ConnectStart:      func(_, _ string) { connStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { t.conn = time.Since(connStart) },
		GotFirstResponseByte: func() {
			t.firstByte = time.Since(t.start)
		},
	}
}

func (w *latencyWindows) record(t *requestTimings, response *http.Response) {
	now := time.Now()
	w.firstByte.Set(now, t.firstByte)
	if t.dns > 0 {
		w.dns.Set(now, t.dns)
	}
	if t.tls > 0 {
		w.tls.Set(now, t.tls)
	}
	if t.conn > 0 {
		w.conn.Set(now, t.conn)
	}

	header := response.Header.Get(internal.HeaderResponseTime)
	if header == "" {
		return
	}
	serverTime, err := time.ParseDuration(header + "ns")
	if err != nil {
		return
	}
	w.server.Set(now, serverTime)
	if t.firstByte > serverTime {
		w.network.Set(now, t.firstByte-serverTime)
	}
}
