package catalog

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

// Schema describes both on-disk layouts accepted by Reload: a sequence of
// entries or a mapping keyed by ability.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}

	entry := reflector.ReflectFromType(reflect.TypeOf(EntryDocument{}))
	entry.Version = ""
	entry.Title = "Ability Catalog Entry"
	entry.Description = "Designer tunables applied over a registered ability."

	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       "Ability Catalog",
		Description: "Designer-authored overrides consumed by the ability runtime.",
		OneOf: []*jsonschema.Schema{
			{
				Type:        "array",
				Title:       "Array Catalog",
				Description: "Catalog expressed as a list of entries.",
				Items:       entry,
			},
			{
				Type:                 "object",
				Title:                "Object Catalog",
				Description:          "Catalog expressed as an object keyed by ability key.",
				AdditionalProperties: entry,
			},
		},
	}
}
