package validator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type priced struct {
	Name     string           `json:"name" validate:"required,max=10"`
	Price    decimal.Decimal  `json:"price" validate:"gte=0"`
	Discount *decimal.Decimal `json:"discount,omitempty" validate:"omitempty,gte=0,lte=100"`
}

func TestStructPasses(t *testing.T) {
	pct := decimal.NewFromInt(15)
	assert.NoError(t, Struct(priced{Name: "Tea", Price: decimal.NewFromInt(20), Discount: &pct}))
	assert.NoError(t, Struct(priced{Name: "Tea", Price: decimal.Zero}))
}

func TestStructReportsEveryField(t *testing.T) {
	pct := decimal.NewFromInt(101)
	err := Struct(priced{Price: decimal.NewFromInt(-1), Discount: &pct})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	fields := map[string]string{}
	for _, f := range verr.Fields {
		fields[f.Field] = f.Tag
	}
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "gte", fields["price"])
	assert.Equal(t, "lte", fields["discount"])
	assert.Contains(t, err.Error(), "name failed required")
}
