package catalog

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	xerrors "PayChat/internal/errors"
)

func names(ds []Descriptor) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name
	}
	return out
}

func TestOperationsForSwitchesSets(t *testing.T) {
	c := Default()
	if got := strings.Join(names(c.OperationsFor(false)), ","); got != "signup,login" {
		t.Fatalf("unexpected unauthenticated set: %s", got)
	}
	if got := strings.Join(names(c.OperationsFor(true)), ","); got != "transfer,logout" {
		t.Fatalf("unexpected authenticated set: %s", got)
	}
	if c.Visible(OpTransfer, false) || !c.Visible(OpTransfer, true) {
		t.Fatalf("transfer visibility mismatch")
	}
}

func TestOperationsForReturnsCopy(t *testing.T) {
	c := Default()
	ops := c.OperationsFor(false)
	ops[0].Name = "mutated"
	if c.OperationsFor(false)[0].Name != OpSignup {
		t.Fatalf("catalog must not be mutable through returned slice")
	}
}

func TestDescribeUnknown(t *testing.T) {
	c := Default()
	if _, err := c.Describe("delete_account"); !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("expected ErrUnknownOperation, got %v", err)
	}
	d, err := c.Describe(OpLogout)
	if err != nil || d.Name != OpLogout {
		t.Fatalf("describe logout: %+v %v", d, err)
	}
}

func TestParametersSchema(t *testing.T) {
	d, _ := Default().Describe(OpTransfer)
	encoded, err := json.Marshal(d.Parameters())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var schema struct {
		Type       string                    `json:"type"`
		Properties map[string]map[string]any `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(encoded, &schema); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if schema.Type != "object" || schema.Properties["amount"]["type"] != "integer" || schema.Properties["to"]["type"] != "string" {
		t.Fatalf("unexpected schema: %s", encoded)
	}
	if strings.Join(schema.Required, ",") != "to,amount" {
		t.Fatalf("unexpected required list: %v", schema.Required)
	}

	logout, _ := Default().Describe(OpLogout)
	if req := logout.Parameters()["required"].([]string); len(req) != 0 {
		t.Fatalf("logout should not require arguments: %v", req)
	}
}

func TestValidateReportsEveryField(t *testing.T) {
	d, _ := Default().Describe(OpTransfer)
	_, err := d.Validate(map[string]any{"amount": "thirty"})

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected two problems, got %+v", verr.Problems)
	}
	if verr.Problems[0] != (Problem{Field: "to", Kind: MissingArgument}) {
		t.Fatalf("unexpected first problem: %+v", verr.Problems[0])
	}
	if verr.Problems[1].Kind != TypeMismatch || verr.Problems[1].Field != "amount" {
		t.Fatalf("unexpected second problem: %+v", verr.Problems[1])
	}
	if xerrors.CodeOf(err) != CodeArgumentInvalid {
		t.Fatalf("expected ARGUMENT_INVALID code, got %s", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), `missing argument "to"`) || !strings.Contains(err.Error(), `"amount" must be an integer`) {
		t.Fatalf("unexpected message: %s", err)
	}
}

func TestValidateConvertsJSONNumbers(t *testing.T) {
	d, _ := Default().Describe(OpTransfer)
	var raw map[string]any
	if err := json.Unmarshal([]byte(`{"to":"bob","amount":30,"memo":"ignored"}`), &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	args, err := d.Validate(raw)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if args.String("to") != "bob" || args.Int("amount") != 30 {
		t.Fatalf("unexpected args: %+v", args)
	}
	if _, ok := args["memo"]; ok {
		t.Fatalf("undeclared fields must be dropped")
	}

	if _, err := d.Validate(map[string]any{"to": "bob", "amount": 1.5}); err == nil {
		t.Fatalf("fractional amount must be rejected")
	}
}

func TestValidateEnum(t *testing.T) {
	d := Descriptor{Name: "pick", Fields: []Field{{Name: "color", Type: TypeString, Required: true, Enum: []string{"red", "blue"}}}}
	if _, err := d.Validate(map[string]any{"color": "red"}); err != nil {
		t.Fatalf("valid enum rejected: %v", err)
	}
	_, err := d.Validate(map[string]any{"color": "green"})
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Problems[0].Kind != NotInEnum {
		t.Fatalf("expected NotInEnum, got %v", err)
	}
}
