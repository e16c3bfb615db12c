// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJob(t *testing.T) {
	r := New()
	r.RecordJob(ResultSuccess, 2*time.Second)
	r.RecordJob(ResultSuccess, time.Second)
	r.RecordJob(ResultCanceled, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.Jobs.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Jobs.WithLabelValues(ResultCanceled)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.Jobs.WithLabelValues(ResultFailure)))
}

func TestObserve(t *testing.T) {
	r := New()
	for i := 0; i < 5; i++ {
		r.ObserveRound()
	}
	r.ObserveIMAD(0.0125)
	r.ObserveRadcal(4711)

	assert.Equal(t, 5.0, testutil.ToFloat64(r.IMADRounds))
	assert.Equal(t, 0.0125, testutil.ToFloat64(r.BestDelta))
	assert.Equal(t, 4711.0, testutil.ToFloat64(r.NoChangePixels))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.ObserveRound()
		r.ObserveIMAD(1)
		r.ObserveRadcal(1)
		r.RecordJob(ResultFailure, time.Second)
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveRound()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.IMADRounds))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.IMADRounds))
}

func TestHandler(t *testing.T) {
	r := New()
	r.RecordJob(ResultSuccess, time.Second)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `arrnorm_jobs_total{result="success"} 1`), text)
	assert.Contains(t, text, "arrnorm_job_duration_seconds_bucket")
	assert.Contains(t, text, "go_goroutines")
}
