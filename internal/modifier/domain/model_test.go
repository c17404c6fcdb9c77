package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestApplyModifiers(t *testing.T) {
	tax := BillingModifier{Kind: KindTax, Pct: 21}
	discount := BillingModifier{Kind: KindDiscount, Pct: 10}

	tests := []struct {
		name      string
		base      int64
		modifiers []BillingModifier
		want      int64
	}{
		{name: "no modifiers", base: 25000, want: 25000},
		{name: "tax only", base: 25000, modifiers: []BillingModifier{tax}, want: 30250},
		{name: "discount only", base: 25000, modifiers: []BillingModifier{discount}, want: 22500},
		{
			name:      "discount applies before tax",
			base:      25000,
			modifiers: []BillingModifier{tax, discount},
			want:      27225, // (25000 - 10%) + 21%
		},
		{name: "zero base", base: 0, modifiers: []BillingModifier{tax}, want: 0},
		{
			name: "full discount floors at zero",
			base: 100,
			modifiers: []BillingModifier{
				{Kind: KindDiscount, Pct: 99.9999},
				tax,
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ApplyModifiers(tt.base, tt.modifiers))
		})
	}
}

func TestModifierActiveAt(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	m := BillingModifier{
		Kind:          KindTax,
		Label:         "IVA",
		Pct:           21,
		EffectiveFrom: &from,
		EffectiveTo:   &to,
		IsEnabled:     true,
	}

	assert.False(t, m.ActiveAt(from.Add(-time.Second)))
	assert.True(t, m.ActiveAt(from))
	assert.True(t, m.ActiveAt(to.Add(-time.Second)))
	assert.False(t, m.ActiveAt(to), "effective_to is exclusive")

	m.IsEnabled = false
	assert.False(t, m.ActiveAt(from))
}

func TestModifierValidate(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	badTo := from.Add(-time.Hour)

	tests := []struct {
		name    string
		m       BillingModifier
		wantErr error
	}{
		{
			name: "valid",
			m:    BillingModifier{Kind: KindTax, Label: "IVA", Pct: 21},
		},
		{
			name:    "bad kind",
			m:       BillingModifier{Kind: "SURCHARGE", Label: "x", Pct: 1},
			wantErr: ErrInvalidKind,
		},
		{
			name:    "empty label",
			m:       BillingModifier{Kind: KindTax, Pct: 1},
			wantErr: ErrInvalidLabel,
		},
		{
			name:    "pct out of range",
			m:       BillingModifier{Kind: KindTax, Label: "x", Pct: 100},
			wantErr: ErrInvalidPct,
		},
		{
			name: "inverted range",
			m: BillingModifier{
				Kind: KindDiscount, Label: "promo", Pct: 5,
				EffectiveFrom: &from, EffectiveTo: &badTo,
			},
			wantErr: ErrInvalidEffectiveRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
