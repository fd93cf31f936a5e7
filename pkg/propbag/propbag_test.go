package propbag

import "testing"

const nicJSON = `{
	"properties": {
		"ipConfigurations": [
			{
				"name": "ipconfig1",
				"properties": {
					"privateIPAddress": "10.0.0.4",
					"publicIPAddress": {
						"id": "/subscriptions/s/resourceGroups/rg/providers/Microsoft.Network/publicIPAddresses/pip1"
					}
				}
			}
		],
		"enableIPForwarding": false,
		"ProvisioningState": "Succeeded"
	}
}`

func TestNavigate_NestedPath(t *testing.T) {
	v, err := FromJSON([]byte(nicJSON))
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}

	got, ok := v.Navigate("properties.ipConfigurations[0].properties.privateIPAddress")
	if !ok {
		t.Fatal("Expected path to resolve")
	}
	if got.String() != "10.0.0.4" {
		t.Errorf("Expected 10.0.0.4, got %q", got.String())
	}
}

func TestNavigate_CaseInsensitiveKeys(t *testing.T) {
	v, _ := FromJSON([]byte(nicJSON))

	got, ok := v.Navigate("properties.provisioningState")
	if !ok {
		t.Fatal("Expected case-insensitive lookup to resolve")
	}
	if got.String() != "Succeeded" {
		t.Errorf("Expected Succeeded, got %q", got.String())
	}
}

func TestNavigate_Wildcard(t *testing.T) {
	v, _ := FromJSON([]byte(nicJSON))

	got, ok := v.Navigate("properties.ipConfigurations[*]")
	if !ok {
		t.Fatal("Expected wildcard path to resolve")
	}
	if got.Kind() != KindArray {
		t.Errorf("Expected array, got kind %d", got.Kind())
	}
	if got.Len() != 1 {
		t.Errorf("Expected 1 element, got %d", got.Len())
	}
}

func TestNavigate_MissingSegment(t *testing.T) {
	v, _ := FromJSON([]byte(nicJSON))

	tests := []string{
		"properties.noSuchField",
		"properties.ipConfigurations[5]",
		"properties.ipConfigurations[0].missing.deeper",
		"properties.enableIPForwarding.nested",
	}
	for _, path := range tests {
		if got, ok := v.Navigate(path); ok {
			t.Errorf("Path %q: expected miss, got %v", path, got.Interface())
		}
	}
}

func TestNavigate_ScalarKinds(t *testing.T) {
	v, _ := FromJSON([]byte(nicJSON))

	got, ok := v.Navigate("properties.enableIPForwarding")
	if !ok {
		t.Fatal("Expected path to resolve")
	}
	if got.Kind() != KindBool || got.Bool() {
		t.Errorf("Expected false bool, got %v", got.Interface())
	}
}

func TestFromJSON_Empty(t *testing.T) {
	v, err := FromJSON(nil)
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	if !v.IsNull() {
		t.Error("Expected null value for empty input")
	}
}
