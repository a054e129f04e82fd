package navpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPath(t *testing.T) {
	root := Root("Order")
	items := root.Append("items")
	product := items.Append("product")

	assert.Equal(t, "Order.items.product", product.String())
	assert.Equal(t, items, product.Parent())
	assert.Equal(t, root, items.Parent())
	assert.Equal(t, Path{}, root.Parent())
	assert.Equal(t, "product", product.Role())
	assert.Equal(t, 0, root.Depth())
	assert.Equal(t, 2, product.Depth())
	assert.True(t, root.IsRoot())
	assert.False(t, items.IsRoot())
	assert.True(t, root.IsPrefixOf(product))
	assert.True(t, items.IsPrefixOf(items))
	assert.False(t, product.IsPrefixOf(items))
	assert.False(t, Root("Ord").IsPrefixOf(root))
	assert.Equal(t, Parse("Order.items"), items)
}

func TestPathAlias(t *testing.T) {
	p := Root("Order").AppendAlias("items", "i2")
	assert.Equal(t, "Order.items(i2)", p.String())
	assert.Equal(t, "items", p.Role())
	assert.Equal(t, "items(i2)", p.Segment())
	assert.NotEqual(t, Root("Order").Append("items"), p)

	seen := map[Path]int{p: 1}
	assert.Equal(t, 1, seen[Parse("Order.items(i2)")])
}
