package sink

import (
	"fmt"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/types"
)

// CollectionStruct is protobuf Struct form of collection, readable by any
// consumer with well-known types.
func CollectionStruct(c *types.Collection) *structpb.Struct {
	packets := make([]*structpb.Value, len(c.Packets))
	for i, p := range c.Packets {
		packets[i] = structValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"type":   stringValue(p.Type()),
			"source": stringValue(p.Source()),
			"fields": structValue(fieldsStruct(p.Fields())),
		}})
	}
	zone := "UTC"
	if c.Location != nil {
		zone = c.Location.String()
	}
	s := &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":      stringValue(c.ID),
		"channel": stringValue(c.Channel.String()),
		"time_ms": numberValue(float64(c.Time.UnixNano() / 1e6)),
		"zone":    stringValue(zone),
		"date":    stringValue(c.DateKey()),
		"packets": {Kind: &structpb.Value_ListValue{ListValue: &structpb.ListValue{Values: packets}}},
	}}
	if c.SourceID != "" {
		s.Fields["source_id"] = stringValue(c.SourceID)
	}
	if c.Fragment != 0 {
		s.Fields["fragment"] = numberValue(float64(c.Fragment))
	}
	return s
}

// EncodeCollection is queue item: varint channel tag followed by marshaled CollectionStruct.
func EncodeCollection(c *types.Collection) ([]byte, error) {
	buf := proto.NewBuffer(make([]byte, 0, 1024))
	if err := buf.EncodeVarint(uint64(c.Channel)); err != nil {
		return nil, errors.Trace(err)
	}
	if err := buf.Marshal(CollectionStruct(c)); err != nil {
		return nil, errors.Annotatef(err, "encode collection=%s", c.ID)
	}
	return buf.Bytes(), nil
}

// DecodeCollection returns channel tag, raw payload and parsed struct.
func DecodeCollection(b []byte) (types.Kind, []byte, *structpb.Struct, error) {
	buf := proto.NewBuffer(b)
	tag, err := buf.DecodeVarint()
	if err != nil {
		return types.KindInvalid, nil, nil, errors.Annotate(err, "decode collection tag")
	}
	payload := b[proto.SizeVarint(tag):]
	var s structpb.Struct
	if err = buf.Unmarshal(&s); err != nil {
		return types.KindInvalid, nil, nil, errors.Annotate(err, "decode collection")
	}
	return types.Kind(tag), payload, &s, nil
}

func fieldsStruct(fields map[string]interface{}) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, v := range fields {
		s.Fields[k] = toValue(v)
	}
	return s
}

func toValue(v interface{}) *structpb.Value {
	switch x := v.(type) {
	case nil:
		return &structpb.Value{Kind: &structpb.Value_NullValue{}}
	case bool:
		return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: x}}
	case int:
		return numberValue(float64(x))
	case int64:
		return numberValue(float64(x))
	case uint64:
		return numberValue(float64(x))
	case float64:
		return numberValue(x)
	case string:
		return stringValue(x)
	}
	return stringValue(fmt.Sprint(v))
}

func stringValue(s string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: s}}
}
func numberValue(f float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: f}}
}
func structValue(s *structpb.Struct) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: s}}
}
