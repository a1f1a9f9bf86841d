package tokenize

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lakedeploy/pkg/errors"
)

const (
	workspaceID = "0b6f2a1c-3d4e-4f5a-8b9c-0d1e2f3a4b5c"
	lakehouseID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

func TestTokenizeReplacesValues(t *testing.T) {
	doc := []byte(`{
		"workspaceId": "` + workspaceID + `",
		"name": "maag_gold",
		"connection": "Server=abc.datawarehouse.fabric.microsoft.com;Database=maag_gold",
		"maag_gold": "keys are untouched",
		"count": 12345678901234567890,
		"ratio": 0.10
	}`)
	mapping := Mapping{
		{Token: "WORKSPACE_ID", Value: workspaceID},
		{Token: "GOLD_NAME", Value: "maag_gold"},
		{Token: "SQL_SERVER", Value: "abc.datawarehouse.fabric.microsoft.com"},
	}

	out, result, err := Tokenize(doc, mapping, Options{})
	require.NoError(t, err)
	assert.Equal(t, mapping, result)

	assert.JSONEq(t, `{
		"workspaceId": "{{WORKSPACE_ID}}",
		"name": "{{GOLD_NAME}}",
		"connection": "Server={{SQL_SERVER}};Database={{GOLD_NAME}}",
		"maag_gold": "keys are untouched",
		"count": 12345678901234567890,
		"ratio": 0.10
	}`, string(out))
	assert.Contains(t, string(out), "12345678901234567890")
	assert.Contains(t, string(out), "0.10")
}

func TestTokenizeLongestValueFirst(t *testing.T) {
	mapping := Mapping{
		{Token: "PREFIX", Value: "maag"},
		{Token: "GOLD", Value: "maag_gold"},
	}
	out, _, err := Tokenize([]byte(`["maag_gold", "maag_silver"]`), mapping, Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `["{{GOLD}}", "{{PREFIX}}_silver"]`, string(out))
}

func TestTokenizeGUIDsCaseInsensitive(t *testing.T) {
	mapping := Mapping{{Token: "WORKSPACE_ID", Value: workspaceID}}
	upper := "0B6F2A1C-3D4E-4F5A-8B9C-0D1E2F3A4B5C"

	out, _, err := Tokenize([]byte(`{"a":"`+upper+`","b":"x-0b6f2a1c"}`), mapping, Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"{{WORKSPACE_ID}}","b":"x-0b6f2a1c"}`, string(out))
}

func TestTokenizeDetectGUIDs(t *testing.T) {
	other := "11111111-2222-4333-8444-555555555555"
	doc := []byte(`{
		"a": "` + workspaceID + `",
		"b": "` + lakehouseID + `",
		"c": ["` + other + `", "` + lakehouseID + `"]
	}`)
	mapping := Mapping{{Token: "WORKSPACE_ID", Value: workspaceID}, {Token: "GUID_1", Value: "taken"}}

	out, result, err := Tokenize(doc, mapping, Options{DetectGUIDs: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"a": "{{WORKSPACE_ID}}",
		"b": "{{GUID_2}}",
		"c": ["{{GUID_3}}", "{{GUID_2}}"]
	}`, string(out))
	assert.Equal(t, Mapping{
		{Token: "WORKSPACE_ID", Value: workspaceID},
		{Token: "GUID_1", Value: "taken"},
		{Token: "GUID_2", Value: lakehouseID},
		{Token: "GUID_3", Value: other},
	}, result)
}

func TestTokenizeDecodePayloads(t *testing.T) {
	inner := `{"lakehouse":"` + lakehouseID + `","workspace":"` + workspaceID + `"}`
	doc := []byte(`{"definition":{"parts":[{"path":"Files/Config/data_agent.json","payload":"` +
		base64.StdEncoding.EncodeToString([]byte(inner)) + `","payloadType":"InlineBase64"}]}}`)
	mapping := Mapping{
		{Token: "WORKSPACE_ID", Value: workspaceID},
		{Token: "GOLD_LAKEHOUSE_ID", Value: lakehouseID},
	}

	out, _, err := Tokenize(doc, mapping, Options{DecodePayloads: true})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"GOLD_LAKEHOUSE_ID", "WORKSPACE_ID"}, Placeholders(out))

	plain, _, err := Tokenize(doc, mapping, Options{})
	require.NoError(t, err)
	assert.Empty(t, Placeholders(plain))

	back, err := Detokenize(out, mapping.Values(), Options{DecodePayloads: true, Strict: true})
	require.NoError(t, err)
	canonical, err := Canonical(doc)
	require.NoError(t, err)
	assert.Equal(t, string(canonical), string(back))
}

func TestRoundTrip(t *testing.T) {
	docs := []string{
		`{"id":"` + workspaceID + `","nested":{"list":[1,2.50,"maag_bronze",null,true]},"html":"<a & b>"}`,
		`["Server=sql.fabric.microsoft.com", {"k": "maag_bronze/maag_bronze"}]`,
		`"just a string with maag_bronze"`,
	}
	mapping := Mapping{
		{Token: "WORKSPACE_ID", Value: workspaceID},
		{Token: "BRONZE", Value: "maag_bronze"},
		{Token: "SERVER", Value: "sql.fabric.microsoft.com"},
	}

	for _, doc := range docs {
		tokenized, _, err := Tokenize([]byte(doc), mapping, Options{DetectGUIDs: true})
		require.NoError(t, err)

		back, err := Detokenize(tokenized, mapping.Values(), Options{Strict: true})
		require.NoError(t, err)

		canonical, err := Canonical([]byte(doc))
		require.NoError(t, err)
		assert.Equal(t, string(canonical), string(back))
	}
}

func TestDetokenizeUnresolved(t *testing.T) {
	doc := []byte(`{"a":"{{WORKSPACE_ID}}","b":"{{MISSING}}-{{OTHER}}-{{MISSING}}"}`)
	values := map[string]string{"WORKSPACE_ID": workspaceID}

	out, err := Detokenize(doc, values, Options{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"`+workspaceID+`","b":"{{MISSING}}-{{OTHER}}-{{MISSING}}"}`, string(out))

	_, err = Detokenize(doc, values, Options{Strict: true})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnresolvedToken))
	assert.Equal(t, []string{"MISSING", "OTHER"}, UnresolvedTokens(err))
}

func TestReplaceText(t *testing.T) {
	text := "spark.read.load('abfss://{{WORKSPACE_ID}}@onelake/{{LAKEHOUSE}}/Files')  # {{lower}}"
	out, unresolved := ReplaceText(text, map[string]string{"WORKSPACE_ID": "ws"})
	assert.Equal(t, "spark.read.load('abfss://ws@onelake/{{LAKEHOUSE}}/Files')  # {{lower}}", out)
	assert.Equal(t, []string{"LAKEHOUSE"}, unresolved)

	assert.Equal(t, "id={{WS}}", TokenizeText("id="+workspaceID, Mapping{{Token: "WS", Value: workspaceID}}))
}

func TestPlaceholdersOnText(t *testing.T) {
	assert.Equal(t, []string{"B", "A"}, Placeholders([]byte("x {{B}} y {{A}} {{B}}")))
}

func TestParseAssignments(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    Mapping
		wantErr bool
	}{
		{name: "valid", pairs: []string{"WS=abc", "CONN=a=b"}, want: Mapping{{"WS", "abc"}, {"CONN", "a=b"}}},
		{name: "missing equals", pairs: []string{"WS"}, wantErr: true},
		{name: "lower case", pairs: []string{"ws=abc"}, wantErr: true},
		{name: "duplicate", pairs: []string{"WS=a", "WS=b"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAssignments(tt.pairs)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromValuesSorted(t *testing.T) {
	m := FromValues(map[string]string{"B": "2", "A": "1"})
	assert.Equal(t, Mapping{{"A", "1"}, {"B", "2"}}, m)
}

func TestInvalidJSON(t *testing.T) {
	_, _, err := Tokenize([]byte("{not json"), nil, Options{})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}
