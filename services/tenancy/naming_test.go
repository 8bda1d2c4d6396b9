package tenancy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "t7_n_default", CollectionName(7, ""))
	assert.Equal(t, "t7_n_default", CollectionName(7, "default"))
	assert.Equal(t, "t7_n_products", CollectionName(7, "products"))
	assert.Equal(t, "t7_h_50726f6475637473", CollectionName(7, "Products"))
	assert.Equal(t, CollectionName(7, "blog"), CollectionName(7, "blog"))
}

func TestCollectionNameIsInjective(t *testing.T) {
	// Pairs chosen so naive concatenation would collide
	pairs := []struct {
		tenant uint
		index  string
	}{
		{1, "1_n_x"},
		{11, "n_x"},
		{1, "x"},
		{11, "x"},
		{1, "X"},
		{1, "58"},
		{1, "h_58"},
		{1, "a-b"},
		{1, "a_b"},
		{1, "A-B"},
	}

	seen := map[string]string{}
	for _, p := range pairs {
		name := CollectionName(p.tenant, p.index)
		key := fmt.Sprintf("%d/%s", p.tenant, p.index)
		if prev, ok := seen[name]; ok {
			t.Fatalf("%s and %s both map to %s", prev, key, name)
		}
		seen[name] = key
	}
}

func TestIsValidIndexName(t *testing.T) {
	assert.True(t, IsValidIndexName(""))
	assert.True(t, IsValidIndexName("Products_2024"))
	assert.True(t, IsValidIndexName("a"))
	assert.False(t, IsValidIndexName("_leading"))
	assert.False(t, IsValidIndexName("has space"))
	assert.False(t, IsValidIndexName("../etc"))
	assert.False(t, IsValidIndexName(string(make([]byte, 65))))
}
