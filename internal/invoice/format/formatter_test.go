package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	issued := time.Date(2024, 2, 15, 23, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		template string
		seq      int64
		want     string
	}{
		{name: "default", template: DefaultInvoiceNumberTemplate, seq: 1, want: "INV-2024-000001"},
		{name: "wide sequence", template: DefaultInvoiceNumberTemplate, seq: 1234567, want: "INV-2024-1234567"},
		{name: "date tokens", template: "{YY}{MM}{DD}-{SEQ}", seq: 42, want: "240215-42"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatInvoiceNumber(tc.template, issued, tc.seq)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatInvoiceNumberUsesUTC(t *testing.T) {
	local := time.Date(2025, 1, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600))
	got, err := FormatInvoiceNumber(DefaultInvoiceNumberTemplate, local, 7)
	require.NoError(t, err)
	assert.Equal(t, "INV-2024-000007", got)
}

func TestFormatInvoiceNumberRejectsBadInput(t *testing.T) {
	_, err := FormatInvoiceNumber("", time.Now(), 1)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber(DefaultInvoiceNumberTemplate, time.Now(), 0)
	assert.Error(t, err)

	_, err = FormatInvoiceNumber("INV-{QUARTER}", time.Now(), 1)
	assert.Error(t, err)
}
