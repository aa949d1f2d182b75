package fetchxml

import (
	"strings"
	"testing"
)

func TestGenerateSimpleSelect(t *testing.T) {
	spec := QuerySpecification{
		Entity:  "account",
		Columns: []ColumnSpec{{Name: "name"}, {Name: "accountid"}},
		Filter: &Filter{
			Type:       FilterAnd,
			Conditions: []Condition{{Attribute: "statecode", Operator: OpEqual, Value: "0"}},
		},
		Order: []OrderSpec{{Attribute: "name"}},
	}

	out, virtuals, entity, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entity != "account" {
		t.Errorf("entity = %q, want account", entity)
	}
	if len(virtuals) != 0 {
		t.Errorf("expected no virtual columns, got %v", virtuals)
	}
	for _, want := range []string{
		`<entity name="account">`,
		`<attribute name="name" />`,
		`<condition attribute="statecode" operator="eq" value="0" />`,
		`<order attribute="name" />`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateTopFoldsIntoCount(t *testing.T) {
	spec := QuerySpecification{Entity: "contact", AllColumns: true, Top: 10}

	out, _, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `count="10"`) {
		t.Errorf("expected TOP folded into count attribute:\n%s", out)
	}
	if strings.Contains(out, "paging-cookie") {
		t.Errorf("TOP and paging-cookie must not coexist:\n%s", out)
	}
}

func TestGenerateTopCappedAtRemoteMax(t *testing.T) {
	spec := QuerySpecification{Entity: "contact", AllColumns: true, Top: 50000}

	out, _, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `count="5000"`) {
		t.Errorf("expected count capped at 5000:\n%s", out)
	}
}

func TestGenerateVirtualColumnNameOnly(t *testing.T) {
	spec := QuerySpecification{
		Entity:  "account",
		Columns: []ColumnSpec{{Name: "primarycontactid", Alias: "primarycontactidname", Virtual: true}},
	}

	out, virtuals, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vc, ok := virtuals["*primarycontactidname"]
	if !ok {
		t.Fatalf("expected virtual column entry, got %v", virtuals)
	}
	if vc.BaseName != "primarycontactid" {
		t.Errorf("unexpected virtual column mapping: %+v", vc)
	}
	if strings.Contains(out, `<attribute name="primarycontactid" />`) {
		t.Errorf("expected no unaliased primarycontactid attribute when only the name form was requested:\n%s", out)
	}
}

func TestGenerateVirtualColumnBaseAlsoQueried(t *testing.T) {
	spec := QuerySpecification{
		Entity: "account",
		Columns: []ColumnSpec{
			{Name: "primarycontactid"},
			{Name: "primarycontactid", Alias: "primarycontactidname", Virtual: true},
		},
	}

	out, virtuals, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vc, ok := virtuals["*primarycontactidname"]
	if !ok {
		t.Fatalf("expected virtual column entry, got %v", virtuals)
	}
	if vc.BaseName != "primarycontactid" {
		t.Errorf("unexpected virtual column mapping: %+v", vc)
	}
	// Both forms were requested, so both attributes must be present: the
	// plain one (base stays queryable) and the aliased one (virtual source).
	if !strings.Contains(out, `<attribute name="primarycontactid" />`) {
		t.Errorf("expected a plain primarycontactid attribute alongside the aliased one:\n%s", out)
	}
	if !strings.Contains(out, `<attribute name="primarycontactid" alias="primarycontactidname" />`) {
		t.Errorf("expected the aliased primarycontactid attribute:\n%s", out)
	}
}

func TestGenerateAggregateWithGroupBy(t *testing.T) {
	spec := QuerySpecification{
		Entity: "opportunity",
		Aggregates: []AggregateSpec{
			{Attribute: "opportunityid", Aggregate: "count", Alias: "total"},
			{Attribute: "ownerid", Aggregate: "", Alias: "owner", GroupBy: true},
		},
	}

	out, _, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `aggregate="true"`) {
		t.Errorf("expected fetch-level aggregate flag:\n%s", out)
	}
	if !strings.Contains(out, `groupby="true"`) {
		t.Errorf("expected groupby attribute:\n%s", out)
	}
}

func TestGenerateLinkEntity(t *testing.T) {
	spec := QuerySpecification{
		Entity:  "contact",
		Columns: []ColumnSpec{{Name: "fullname"}},
		Links: []LinkEntity{{
			Name:    "account",
			Alias:   "a",
			From:    "accountid",
			To:      "parentcustomerid",
			Columns: []ColumnSpec{{Name: "name", Alias: "account_name"}},
		}},
	}

	out, _, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		`<link-entity name="account" from="accountid" to="parentcustomerid" link-type="inner" alias="a">`,
		`<attribute name="name" alias="account_name" />`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGenerateRejectsMissingEntity(t *testing.T) {
	if _, _, _, err := Generate(QuerySpecification{}); err == nil {
		t.Fatal("expected an error for a query specification with no entity")
	}
}

func TestGenerateEscapesAttributeValues(t *testing.T) {
	spec := QuerySpecification{
		Entity: "account",
		Filter: &Filter{
			Type:       FilterAnd,
			Conditions: []Condition{{Attribute: "name", Operator: OpEqual, Value: `O'Brien & Sons <ltd>`}},
		},
	}

	out, _, _, err := Generate(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "<ltd>") || strings.Contains(out, "& Sons") {
		t.Errorf("expected XML-unsafe characters to be escaped:\n%s", out)
	}
}
