// Package metamodel describes entities, embeddables and their relational
// mappings. Descriptors are plain structs linked and validated once by New;
// the resulting Model is read-only and safe for concurrent use.
//
//	order := &metamodel.Entity{
//	    Name: "Order",
//	    Type: reflect.TypeOf(Order{}),
//	    ID:   &metamodel.Attribute{Name: "id", Type: metamodel.TypeInt64},
//	    Attributes: []*metamodel.Attribute{
//	        {Name: "customerId", Type: metamodel.TypeInt64},
//	        {Name: "items", Kind: metamodel.ToMany, Target: "LineItem", JoinColumn: "order_id", Fetch: metamodel.Eager},
//	    },
//	}
//	model, err := metamodel.New([]*metamodel.Entity{order, item})
//
// Names default from the attribute and entity names: columns are the
// underscored attribute name, tables the pluralized underscored entity name
// and Go fields the attribute name in Go casing ("customerId" maps to
// CustomerID, see FieldName).
package metamodel
