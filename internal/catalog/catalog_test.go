package catalog

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func TestValue_JSON(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		json  string
	}{
		{name: "string", value: StringValue("us-east-1"), json: `"us-east-1"`},
		{name: "int", value: IntValue(120), json: `120`},
		{name: "float", value: FloatValue(99.5), json: `99.5`},
		{name: "integral float", value: FloatValue(2), json: `2.0`},
		{name: "bool", value: BoolValue(true), json: `true`},
		{name: "null", value: Value{}, json: `null`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			bs, err := json.Marshal(tc.value)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(bs) != tc.json {
				t.Errorf("Marshal() = %s, want %s", bs, tc.json)
			}
			var got Value
			if err := json.Unmarshal(bs, &got); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !got.Equal(tc.value) {
				t.Errorf("Unmarshal() = %v (%s), want %v (%s)", got, got.Kind(), tc.value, tc.value.Kind())
			}
		})
	}
}

func TestValue_RejectsNonScalars(t *testing.T) {
	var m map[string]Value
	if err := json.Unmarshal([]byte(`{"a": {"nested": 1}}`), &m); err == nil {
		t.Error("Unmarshal(object) error = nil, want error")
	}
	if err := yaml.Unmarshal([]byte("a: [1, 2]\n"), &m); err == nil {
		t.Error("yaml.Unmarshal(list) error = nil, want error")
	}
}

func TestValue_YAML(t *testing.T) {
	in := map[string]Value{
		"region":  StringValue("us-east-1"),
		"retries": IntValue(3),
		"ratio":   FloatValue(1),
		"secure":  BoolValue(false),
	}
	bs, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]Value
	if err := yaml.Unmarshal(bs, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("YAML round trip mismatch (-want +got):\n%s\nYAML:\n%s", diff, bs)
	}
}

func TestSecret(t *testing.T) {
	c := &ClientConnection{ID: "minio", ServiceType: "minio", Password: "hunter2"}
	if got := c.Password.String(); got == "hunter2" {
		t.Errorf("Secret.String() leaks the secret")
	}
	r := c.Redacted()
	if r.Password.Reveal() == "hunter2" {
		t.Errorf("Redacted() kept the password")
	}
	if c.Password.Reveal() != "hunter2" {
		t.Errorf("Redacted() modified the original")
	}
	bs, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back ClientConnection
	if err := json.Unmarshal(bs, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Password.Reveal() != "hunter2" {
		t.Errorf("password lost in JSON round trip: %s", bs)
	}
}

func TestClone_IsDeep(t *testing.T) {
	a := &Asset{
		ID:      "a1",
		Schema:  map[string]string{"id": "int"},
		Lineage: []string{"a0"},
	}
	c := a.Clone()
	c.Schema["id"] = "string"
	c.Lineage[0] = "x"
	if a.Schema["id"] != "int" || a.Lineage[0] != "a0" {
		t.Errorf("Asset.Clone() shares state with the original: %+v", a)
	}

	m := &Metastore{ID: "m1", Assets: map[string]*Asset{"a1": a}}
	mc := m.Clone()
	mc.Assets["a1"].Description = "changed"
	delete(mc.Assets, "a1")
	if len(m.Assets) != 1 || m.Assets["a1"].Description != "" {
		t.Errorf("Metastore.Clone() shares state with the original")
	}

	p := &Process{
		Transformations: []Transformation{{ID: "t1", Dependencies: []string{"t0"}}},
		Performance:     Performance{Logs: map[string][]string{"errors": {"e1"}}},
	}
	pc := p.Clone()
	pc.Transformations[0].Dependencies[0] = "x"
	pc.Performance.Logs["errors"][0] = "x"
	if p.Transformations[0].Dependencies[0] != "t0" || p.Performance.Logs["errors"][0] != "e1" {
		t.Errorf("Process.Clone() shares state with the original")
	}
}

func TestValidateAsset(t *testing.T) {
	valid := func() *Asset {
		return &Asset{ID: "a1", Type: "table", Location: "s3://lake/raw/a1.parquet"}
	}
	tests := []struct {
		name    string
		mutate  func(a *Asset)
		wantErr bool
	}{
		{name: "valid", mutate: func(a *Asset) {}},
		{name: "https location", mutate: func(a *Asset) { a.Location = "https://minio.local/lake/a1" }},
		{name: "empty id", mutate: func(a *Asset) { a.ID = "" }, wantErr: true},
		{name: "id with space", mutate: func(a *Asset) { a.ID = "a 1" }, wantErr: true},
		{name: "no type", mutate: func(a *Asset) { a.Type = " " }, wantErr: true},
		{name: "relative location", mutate: func(a *Asset) { a.Location = "raw/a1.parquet" }, wantErr: true},
		{name: "bad schema field", mutate: func(a *Asset) { a.Schema = map[string]string{"1x": "int"} }, wantErr: true},
		{name: "untyped schema field", mutate: func(a *Asset) { a.Schema = map[string]string{"x": ""} }, wantErr: true},
		{name: "duplicate lineage", mutate: func(a *Asset) { a.Lineage = []string{"a0", "a0"} }, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := valid()
			tc.mutate(a)
			err := ValidateAsset(a)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateAsset() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateProcess(t *testing.T) {
	conn := ConnectionDetails{Type: "S3", Identifier: "my-bucket"}
	tests := []struct {
		name    string
		p       *Process
		wantErr bool
	}{
		{
			name: "valid",
			p: &Process{
				Sources:         []Source{{ID: "s1", Connection: conn}},
				Destinations:    []Destination{{ID: "d1", Connection: conn}},
				Transformations: []Transformation{{ID: "t1"}, {ID: "t2", Dependencies: []string{"t1"}}},
			},
		},
		{
			name:    "duplicate transformation",
			p:       &Process{Transformations: []Transformation{{ID: "t1"}, {ID: "t1"}}},
			wantErr: true,
		},
		{
			name:    "source without connection type",
			p:       &Process{Sources: []Source{{ID: "s1", Connection: ConnectionDetails{Identifier: "x"}}}},
			wantErr: true,
		},
		{
			name:    "invalid id",
			p:       &Process{ID: "not valid"},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateProcess(tc.p)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateProcess() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestJobControl_NextRun(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	j := &JobControl{Schedule: "0 0 * * *"}
	got, err := j.NextRun(base)
	if err != nil {
		t.Fatalf("NextRun() error = %v", err)
	}
	want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun() = %v, want %v", got, want)
	}

	if got, err := (&JobControl{}).NextRun(base); err != nil || !got.IsZero() {
		t.Errorf("NextRun() without schedule = %v, %v; want zero time", got, err)
	}
	if _, err := (&JobControl{Schedule: "every tuesday"}).NextRun(base); err == nil {
		t.Error("NextRun() with invalid schedule error = nil, want error")
	}
}
