package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/quickbook-dispatch/internal/store"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &store.JobCursor{
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC),
		JobID:     "0b7c6f1e-8a53-4f0e-9a55-1d2f3c4b5a69",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name    string
		cursor  string
		wantNil bool
		wantErr bool
	}{
		{name: "empty is first page", cursor: "", wantNil: true},
		{name: "not base64", cursor: "!!!", wantErr: true},
		{name: "missing separator", cursor: encode("1700000000"), wantErr: true},
		{name: "missing job id", cursor: encode("1700000000|"), wantErr: true},
		{name: "non numeric time", cursor: encode("yesterday|j-1"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}
