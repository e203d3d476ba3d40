package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectCSV(t *testing.T, input string, opts CSVOptions) ([]map[string]string, error) {
	t.Helper()
	rows, errs := StreamCSV(context.Background(), strings.NewReader(input), opts)
	var out []map[string]string
	for row := range rows {
		out = append(out, row)
	}
	return out, <-errs
}

func TestStreamCSV(t *testing.T) {
	input := "name1,city,state\nHope House,Reno,NV\nNew Dawn,Sparks,NV\n"

	rows, err := collectCSV(t, input, CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Hope House", rows[0]["name1"])
	assert.Equal(t, "Sparks", rows[1]["city"])
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := "name1 , city\n Hope House ,  Reno \n"

	rows, err := collectCSV(t, input, CSVOptions{TrimSpace: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Hope House", rows[0]["name1"])
	assert.Equal(t, "Reno", rows[0]["city"])
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "a,b,c\n1,2\n1,2,3,4\n"

	rows, err := collectCSV(t, input, CSVOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, rows[0])
	assert.Equal(t, "3", rows[1]["c"])
}

func TestStreamCSV_TabDelimited(t *testing.T) {
	input := "name1\tcity\nHope House\tReno\n"

	rows, err := collectCSV(t, input, CSVOptions{Delimiter: '\t'})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Reno", rows[0]["city"])
}

func TestStreamCSV_Empty(t *testing.T) {
	rows, err := collectCSV(t, "", CSVOptions{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeJSONArray(t *testing.T) {
	type item struct {
		Name string `json:"name"`
	}
	input := `[{"name":"a"},{"name":"b"}]`

	items, errs := DecodeJSONArray[item](context.Background(), strings.NewReader(input))
	var out []item
	for it := range items {
		out = append(out, it)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, []item{{Name: "a"}, {Name: "b"}}, out)
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	items, errs := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(`{"a":1}`))
	for range items {
	}
	assert.Error(t, <-errs)
}

func TestDecodeJSONObject(t *testing.T) {
	type page struct {
		Page int `json:"page"`
	}
	got, err := DecodeJSONObject[page](strings.NewReader(`{"page":3}`))
	require.NoError(t, err)
	assert.Equal(t, 3, got.Page)
}
