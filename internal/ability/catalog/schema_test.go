package catalog

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaDescribesEntries(t *testing.T) {
	data, err := json.Marshal(Schema())
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	doc := string(data)
	for _, want := range []string{`"oneOf"`, `"cooldownTicks"`, `"prerequisite"`, `"intervalTicks"`, `"Ability Catalog"`} {
		if !strings.Contains(doc, want) {
			t.Fatalf("schema missing %s: %s", want, doc)
		}
	}
}
