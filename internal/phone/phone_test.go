package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToE164(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "eleven digits", input: "48996899346", want: "+5548996899346"},
		{name: "ten digit mobile gets nine", input: "4896899346", want: "+5548996899346"},
		{name: "ten digit landline untouched", input: "4832224455", want: "+554832224455"},
		{name: "punctuated mobile", input: "(48) 99689-9346", want: "+5548996899346"},
		{name: "punctuated legacy mobile", input: "(48) 9689-9346", want: "+5548996899346"},
		{name: "with country code", input: "+55 48 99689-9346", want: "+5548996899346"},
		{name: "country code and legacy mobile", input: "55 48 9689-9346", want: "+5548996899346"},
		{name: "trunk zero", input: "048 99689-9346", want: "+5548996899346"},
		{name: "landline starting with two", input: "1122334455", want: "+551122334455"},
		{name: "too short", input: "99689-9346", wantErr: true},
		{name: "too long", input: "489968993461234", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "letters only", input: "phone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToE164(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "already canonical", input: "+5548996899346", want: "+5548996899346"},
		{name: "double nine collapsed", input: "+55489996899346", want: "+5548996899346"},
		{name: "legacy mobile gains nine", input: "+554896899346", want: "+5548996899346"},
		{name: "landline", input: "+554832224455", want: "+554832224455"},
		{name: "missing country code", input: "48996899346", wantErr: true},
		{name: "twelve national without double nine", input: "+55481996899346", wantErr: true},
		{name: "garbage", input: "+1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"+5548996899346",
		"+55489996899346",
		"+554896899346",
		"+554832224455",
		"+5511987654321",
		"+55119987654321",
	}
	for _, in := range inputs {
		once, err := Normalize(in)
		require.NoError(t, err, in)
		twice, err := Normalize(once)
		require.NoError(t, err, in)
		assert.Equal(t, once, twice, in)
	}
}

func TestMessagingID(t *testing.T) {
	assert.Equal(t, "5548996899346", MessagingID("+5548996899346"))
	assert.Equal(t, "5548996899346", MessagingID("+55 (48) 99689-9346"))
}

func TestVariants(t *testing.T) {
	got, err := Variants("(48) 99689-9346")
	require.NoError(t, err)
	assert.Equal(t, []string{"+5548996899346", "+554896899346"}, got)

	got, err = Variants("4896899346")
	require.NoError(t, err)
	assert.Equal(t, []string{"+5548996899346", "+554896899346"}, got)

	got, err = Variants("4832224455")
	require.NoError(t, err)
	assert.Equal(t, []string{"+554832224455"}, got)

	_, err = Variants("123")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
