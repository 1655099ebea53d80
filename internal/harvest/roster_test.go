package harvest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONRoster(t *testing.T) {
	t.Parallel()
	data := []byte(`[
		{"First": "Ada ", "Last": "Lovelace", "Grade": 5, "Math Period": "2", "Student Progress Link": "https://portal.test/p/abcd1234"},
		{"First": "Nolan", "Last": "Test", "Grade": "4", "Math Period": 1}
	]`)

	subjects, err := ParseJSONRoster(data)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, Subject{FirstName: "Ada", LastName: "Lovelace", Grade: "5", Period: "2", ProfileLink: "https://portal.test/p/abcd1234"}, subjects[0])
	assert.False(t, subjects[1].HasLink())
	assert.Equal(t, "1", subjects[1].Period)
}

func TestParseJSONRoster_Rejects(t *testing.T) {
	t.Parallel()
	for name, data := range map[string]string{
		"not an array":     `{"First": "Ada"}`,
		"missing last":     `[{"First": "Ada"}]`,
		"object for grade": `[{"First": "Ada", "Last": "L", "Grade": {}}]`,
		"truncated":        `[{"First": "Ada"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseJSONRoster([]byte(data))
			require.Error(t, err)
		})
	}
}

func TestParseCSVRoster(t *testing.T) {
	t.Parallel()
	data := []byte("First,Last,Grade,Math Period,Student Progress Link\n" +
		"Ada,Lovelace,5,2,https://portal.test/p/abcd1234\n" +
		"\"Smith, Jr.\",Test,4,1,\n")

	subjects, err := ParseCSVRoster(data)
	require.NoError(t, err)
	require.Len(t, subjects, 2)
	assert.Equal(t, "https://portal.test/p/abcd1234", subjects[0].ProfileLink)
	assert.Equal(t, "Smith, Jr.", subjects[1].FirstName)
	assert.False(t, subjects[1].HasLink())
}

func TestParseCSVRoster_OptionalLinkColumn(t *testing.T) {
	t.Parallel()
	subjects, err := ParseCSVRoster([]byte("First,Last,Grade,Math Period\nAda,Lovelace,5,2\n"))
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Empty(t, subjects[0].ProfileLink)
}

func TestParseCSVRoster_Rejects(t *testing.T) {
	t.Parallel()
	_, err := ParseCSVRoster(nil)
	require.Error(t, err)

	_, err = ParseCSVRoster([]byte("First,Last\nAda,Lovelace\n"))
	require.ErrorContains(t, err, "Math Period")
}

func TestFileRoster_Load(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "roster.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"First":"Ada","Last":"Lovelace"}]`), 0o600))

	subjects, err := NewFileRoster(jsonPath).Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, subjects, 1)

	tests := map[string]string{
		"missing file":      filepath.Join(dir, "absent.json"),
		"unknown extension": filepath.Join(dir, "roster.xlsx"),
		"empty path":        "",
	}
	require.NoError(t, os.WriteFile(tests["unknown extension"], []byte("x"), 0o600))
	for name, path := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewFileRoster(path).Load(context.Background())
			var rfe *RosterFormatError
			require.ErrorAs(t, err, &rfe)
			assert.True(t, IsFatal(err))
		})
	}
}

func TestSubject_Identity(t *testing.T) {
	t.Parallel()
	tests := []struct {
		link string
		want string
	}{
		{"https://portal.test/p/abcd1234", "abcd1234"},
		{"https://portal.test/p/abcd1234/", "abcd1234"},
		{"  https://portal.test/p/xyzabcd1234 ", "abcd1234"},
		{"short", "short"},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Subject{ProfileLink: tc.link}.Identity(8), tc.link)
	}
}

func TestSubject_ArtifactName(t *testing.T) {
	t.Parallel()
	s := Subject{FirstName: "Ada", LastName: "Love/lace", Grade: "5"}
	assert.Equal(t, "5-Love_lace-Ada-avatar", s.ArtifactName(AvatarSuffix))
}

func TestBounds(t *testing.T) {
	t.Parallel()
	b := Bounds{First: 2, Last: 4}
	assert.False(t, b.Contains(1))
	assert.True(t, b.Contains(2))
	assert.True(t, b.Contains(4))
	assert.False(t, b.Contains(5))
	assert.True(t, Bounds{}.Contains(1_000_000))
	assert.True(t, Bounds{First: 3}.Contains(99))

	require.NoError(t, b.Validate())
	require.Error(t, Bounds{First: 5, Last: 2}.Validate())
	require.Error(t, Bounds{First: -1}.Validate())
}

func TestResult_FinishIsOnce(t *testing.T) {
	t.Parallel()
	r := newResult(ada)
	require.Equal(t, "pending", r.Status.String())
	require.True(t, r.finish(Skipped(ReasonNoLink), runStart))
	require.False(t, r.finish(Extracted(), runStart))
	assert.Equal(t, "skipped(no-link)", r.Status.String())
}
