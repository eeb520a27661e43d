package bsonmap

import (
	"reflect"

	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// SerializationContext carries the writer and settings for one serialization.
// Contexts are immutable; With derives a child.
type SerializationContext struct {
	writer        bsonrw.ValueWriter
	domain        *Domain
	isDynamicType func(reflect.Type) bool
}

// NewSerializationContext creates a root context writing to w.
func NewSerializationContext(d *Domain, w bsonrw.ValueWriter, configure func(*SerializationContextBuilder)) *SerializationContext {
	b := &SerializationContextBuilder{domain: d, writer: w}
	if configure != nil {
		configure(b)
	}
	return b.Build()
}

// Writer returns the writer values are serialized to.
func (c *SerializationContext) Writer() bsonrw.ValueWriter { return c.writer }

// Domain returns the domain serializers are looked up in.
func (c *SerializationContext) Domain() *Domain { return c.domain }

// IsDynamicType reports whether values of t are written without a type
// wrapper when they appear under an any-typed member.
func (c *SerializationContext) IsDynamicType(t reflect.Type) bool {
	return c.isDynamicType != nil && c.isDynamicType(t)
}

// With derives a child context. Settings the callback leaves alone are
// inherited from c.
func (c *SerializationContext) With(configure func(*SerializationContextBuilder)) *SerializationContext {
	b := &SerializationContextBuilder{parent: c, domain: c.domain, writer: c.writer}
	if configure != nil {
		configure(b)
	}
	return b.Build()
}

func (c *SerializationContext) withWriter(w bsonrw.ValueWriter) *SerializationContext {
	child := *c
	child.writer = w
	return &child
}

// SerializationContextBuilder configures a SerializationContext.
type SerializationContextBuilder struct {
	parent           *SerializationContext
	domain           *Domain
	writer           bsonrw.ValueWriter
	isDynamicType    func(reflect.Type) bool
	isDynamicTypeSet bool
}

// SetWriter sets the writer of the context being built.
func (b *SerializationContextBuilder) SetWriter(w bsonrw.ValueWriter) *SerializationContextBuilder {
	b.writer = w
	return b
}

// SetIsDynamicType overrides the dynamic type predicate. nil means no
// type is dynamic.
func (b *SerializationContextBuilder) SetIsDynamicType(fn func(reflect.Type) bool) *SerializationContextBuilder {
	b.isDynamicType = fn
	b.isDynamicTypeSet = true
	return b
}

// Build resolves every unset setting from the parent context, or from the
// domain defaults current at the time of the call.
func (b *SerializationContextBuilder) Build() *SerializationContext {
	c := &SerializationContext{writer: b.writer, domain: b.domain, isDynamicType: b.isDynamicType}
	if !b.isDynamicTypeSet {
		if b.parent != nil {
			c.isDynamicType = b.parent.isDynamicType
		} else {
			c.isDynamicType = b.domain.Defaults().IsDynamicType
		}
	}
	return c
}

// DeserializationContext carries the reader and settings for one
// deserialization. Contexts are immutable; With derives a child.
type DeserializationContext struct {
	reader                     bsonrw.ValueReader
	domain                     *Domain
	allowDuplicateElementNames bool
	dynamicArraySerializer     Serializer
	dynamicDocumentSerializer  Serializer
}

// NewDeserializationContext creates a root context reading from r.
func NewDeserializationContext(d *Domain, r bsonrw.ValueReader, configure func(*DeserializationContextBuilder)) *DeserializationContext {
	b := &DeserializationContextBuilder{domain: d, reader: r}
	if configure != nil {
		configure(b)
	}
	return b.Build()
}

// Reader returns the reader values are deserialized from.
func (c *DeserializationContext) Reader() bsonrw.ValueReader { return c.reader }

// Domain returns the domain serializers are looked up in.
func (c *DeserializationContext) Domain() *Domain { return c.domain }

// AllowDuplicateElementNames reports whether dynamic documents keep repeated
// element names instead of failing.
func (c *DeserializationContext) AllowDuplicateElementNames() bool {
	return c.allowDuplicateElementNames
}

// DynamicArraySerializer reads BSON arrays whose nominal type is any.
func (c *DeserializationContext) DynamicArraySerializer() Serializer {
	return c.dynamicArraySerializer
}

// DynamicDocumentSerializer reads undiscriminated BSON documents whose
// nominal type is any.
func (c *DeserializationContext) DynamicDocumentSerializer() Serializer {
	return c.dynamicDocumentSerializer
}

// With derives a child context. Settings the callback leaves alone are
// inherited from c.
func (c *DeserializationContext) With(configure func(*DeserializationContextBuilder)) *DeserializationContext {
	b := &DeserializationContextBuilder{parent: c, domain: c.domain, reader: c.reader}
	if configure != nil {
		configure(b)
	}
	return b.Build()
}

func (c *DeserializationContext) withReader(r bsonrw.ValueReader) *DeserializationContext {
	child := *c
	child.reader = r
	return &child
}

// DeserializationContextBuilder configures a DeserializationContext.
type DeserializationContextBuilder struct {
	parent *DeserializationContext
	domain *Domain
	reader bsonrw.ValueReader

	allowDuplicateElementNames *bool
	dynamicArraySerializer     Serializer
	dynamicDocumentSerializer  Serializer
}

// SetReader sets the reader of the context being built.
func (b *DeserializationContextBuilder) SetReader(r bsonrw.ValueReader) *DeserializationContextBuilder {
	b.reader = r
	return b
}

// SetAllowDuplicateElementNames controls whether a repeated element
// name is an error.
func (b *DeserializationContextBuilder) SetAllowDuplicateElementNames(allow bool) *DeserializationContextBuilder {
	b.allowDuplicateElementNames = &allow
	return b
}

// SetDynamicArraySerializer sets the serializer for arrays read as any.
func (b *DeserializationContextBuilder) SetDynamicArraySerializer(s Serializer) *DeserializationContextBuilder {
	b.dynamicArraySerializer = s
	return b
}

// SetDynamicDocumentSerializer sets the serializer for documents read as any.
func (b *DeserializationContextBuilder) SetDynamicDocumentSerializer(s Serializer) *DeserializationContextBuilder {
	b.dynamicDocumentSerializer = s
	return b
}

// Build resolves every unset setting from the parent context, or from the
// domain defaults current at the time of the call.
func (b *DeserializationContextBuilder) Build() *DeserializationContext {
	c := &DeserializationContext{
		reader:                    b.reader,
		domain:                    b.domain,
		dynamicArraySerializer:    b.dynamicArraySerializer,
		dynamicDocumentSerializer: b.dynamicDocumentSerializer,
	}
	if b.parent != nil {
		c.allowDuplicateElementNames = b.parent.allowDuplicateElementNames
		if c.dynamicArraySerializer == nil {
			c.dynamicArraySerializer = b.parent.dynamicArraySerializer
		}
		if c.dynamicDocumentSerializer == nil {
			c.dynamicDocumentSerializer = b.parent.dynamicDocumentSerializer
		}
	} else {
		defaults := b.domain.Defaults()
		c.allowDuplicateElementNames = defaults.AllowDuplicateElementNames
		if c.dynamicArraySerializer == nil {
			c.dynamicArraySerializer = defaults.DynamicArraySerializer
		}
		if c.dynamicDocumentSerializer == nil {
			c.dynamicDocumentSerializer = defaults.DynamicDocumentSerializer
		}
	}
	if b.allowDuplicateElementNames != nil {
		c.allowDuplicateElementNames = *b.allowDuplicateElementNames
	}
	return c
}
