package gateway

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

var schemas = struct {
	sync.Mutex
	byType map[reflect.Type]*gojsonschema.Schema
}{byType: map[reflect.Type]*gojsonschema.Schema{}}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		AllowAdditionalProperties:  true,
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
		Anonymous:                  true,
	}
}

// SchemaFor returns the compiled validation schema for t, reflecting it on first use.
//
// Fields are only required when tagged `jsonschema:"required"`, fields that
// may be null need `jsonschema:"nullable"`, and unknown properties are allowed.
func SchemaFor(t reflect.Type) (*gojsonschema.Schema, error) {
	schemas.Lock()
	defer schemas.Unlock()

	if s, ok := schemas.byType[t]; ok {
		return s, nil
	}

	reflected := newReflector().ReflectFromType(t)
	// gojsonschema only understands drafts up to 7
	reflected.Version = ""

	b, err := json.Marshal(reflected)
	if err != nil {
		return nil, errors.Wrapf(err, "could not marshal schema for %s", t)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, errors.Wrapf(err, "could not compile schema for %s", t)
	}
	schemas.byType[t] = s
	return s, nil
}

// Validate checks body against the schema reflected from T without decoding it.
func Validate[T any](body []byte) error {
	s, err := SchemaFor(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return err
	}

	res, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.Wrap(err, "response is not valid JSON")
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.Errorf("unexpected response shape: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Decode validates body and unmarshals it into a T.
func Decode[T any](body []byte) (T, error) {
	var v T
	if err := Validate[T](body); err != nil {
		return v, err
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return v, errors.Wrap(err, "could not decode response")
	}
	return v, nil
}
