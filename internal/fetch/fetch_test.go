package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
	}{
		{"nil", nil, false, false},
		{"transient", Transient("list", errors.New("HTTP 503")), true, false},
		{"fatal", Fatal("list", errors.New("HTTP 403")), false, true},
		{"wrapped fatal", fmt.Errorf("page 2: %w", Fatal("list", ErrUnauthenticated)), false, true},
		{"bare unauthenticated", ErrUnauthenticated, false, true},
		{"unclassified", errors.New("connection reset by peer"), true, false},
		{"deadline", context.DeadlineExceeded, true, false},
		{"cancelled", fmt.Errorf("get: %w", context.Canceled), false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.transient, IsTransient(tc.err))
			assert.Equal(t, tc.fatal, IsFatal(tc.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := Transient("download", ErrRateLimited)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, "download: rate limited", err.Error())
	assert.Nil(t, Fatal("x", nil))
}

func TestQuery_Validate(t *testing.T) {
	from := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, Query{TaxpayerID: "52.399.222/0001-22", From: from, To: to}.Validate())

	err := Query{TaxpayerID: "", From: from, To: to}.Validate()
	assert.True(t, IsFatal(err))

	err = Query{TaxpayerID: "52399222000122", From: to, To: from}.Validate()
	assert.True(t, IsFatal(err))

	err = Query{TaxpayerID: "52399222000122"}.Validate()
	assert.Error(t, err)
}

func TestPage_Last(t *testing.T) {
	assert.True(t, Page{Number: 1, TotalPages: 0}.Last())
	assert.False(t, Page{Number: 1, TotalPages: 2}.Last())
	assert.True(t, Page{Number: 2, TotalPages: 2}.Last())
}
