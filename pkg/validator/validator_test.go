package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type grantPayload struct {
	RoleCode     string `json:"role_code" validate:"notblank,slug,max=64"`
	TenantID     string `json:"tenant_id" validate:"notblank"`
	ResourceType string `json:"resource_type,omitempty" validate:"omitempty,slug"`
	ResourceID   string `json:"resource_id" validate:"omitempty,max=128"`
	Capability   string `json:"permission_type" validate:"oneof=read write delete admin share export"`
	Internal     string `json:"-" validate:"omitempty,max=2"`
}

func TestValidateStruct(t *testing.T) {
	cases := []struct {
		name   string
		input  grantPayload
		fields []string
	}{
		{
			name:  "valid",
			input: grantPayload{RoleCode: "kb-editor", TenantID: "t1", ResourceType: "knowledgebase", Capability: "read"},
		},
		{
			name:   "blank role and tenant",
			input:  grantPayload{RoleCode: "   ", Capability: "read"},
			fields: []string{"role_code", "tenant_id"},
		},
		{
			name:   "slug rejects upper case and spaces",
			input:  grantPayload{RoleCode: "Editor", TenantID: "t1", ResourceType: "knowledge base", Capability: "read"},
			fields: []string{"role_code", "resource_type"},
		},
		{
			name:   "unknown capability",
			input:  grantPayload{RoleCode: "viewer", TenantID: "t1", Capability: "fly"},
			fields: []string{"permission_type"},
		},
		{
			name:   "json dash falls back to field name",
			input:  grantPayload{RoleCode: "viewer", TenantID: "t1", Capability: "read", Internal: "toolong"},
			fields: []string{"Internal"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateStruct(tc.input)
			if len(tc.fields) == 0 {
				require.NoError(t, err)
				return
			}

			var failures ValidationErrors
			require.True(t, errors.As(err, &failures), "expected ValidationErrors, got %T", err)
			got := make([]string, 0, len(failures))
			for _, failure := range failures {
				got = append(got, failure.Field)
			}
			require.ElementsMatch(t, tc.fields, got)
		})
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	err := ValidateStruct(grantPayload{RoleCode: "viewer", TenantID: "t1", Capability: "fly"})
	require.EqualError(t, err, "permission_type failed on oneof=read write delete admin share export")
	require.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestDescribe(t *testing.T) {
	err := ValidateStruct(grantPayload{RoleCode: "Editor", Capability: "fly"})
	require.Equal(t,
		"role code must be a lower-case code (letters, digits, '_', '-', '.'); tenant id is required; permission type must be one of: read write delete admin share export",
		Describe(err))
	require.Equal(t, "boom", Describe(errors.New("boom")))
	require.Empty(t, Describe(nil))
}

func TestValidateStructRejectsNonStruct(t *testing.T) {
	err := ValidateStruct("not a struct")
	require.Error(t, err)

	var failures ValidationErrors
	require.False(t, errors.As(err, &failures))
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("tenant_prefix", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) > 1 && fl.Field().String()[0] == 't'
	})
	require.NoError(t, err)

	type custom struct {
		Tenant string `validate:"tenant_prefix"`
	}

	require.NoError(t, ValidateStruct(custom{Tenant: "t1"}))
	require.Error(t, ValidateStruct(custom{Tenant: "acme"}))
}
