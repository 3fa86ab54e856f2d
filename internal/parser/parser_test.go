package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `package testpkg

import "fmt"

// User represents a user in the system
type User struct {
	ID   int
	Name string
}

// GetName returns the user's name
func (u *User) GetName() string {
	return u.Name
}

// NewUser creates a new user
func NewUser(id int, name string) *User {
	return &User{ID: id, Name: name}
}

type Store interface {
	Get(id int) (*User, error)
}

type ID int

const MaxUsers = 100

var defaultName string

func (s *cache[K, V]) lookup(key K) (V, bool) {
	var zero V
	fmt.Println(key)
	return zero, false
}
`

func TestParseSource_Declarations(t *testing.T) {
	p := New()
	decls, err := p.ParseSource("user.go", []byte(sampleSource))
	require.NoError(t, err)

	byName := make(map[string]Declaration)
	for _, d := range decls {
		byName[d.QualifiedName()] = d
	}

	tests := []struct {
		name     string
		kind     Kind
		exported bool
	}{
		{"User", KindStruct, true},
		{"User.GetName", KindMethod, true},
		{"NewUser", KindFunction, true},
		{"Store", KindInterface, true},
		{"ID", KindType, true},
		{"MaxUsers", KindConst, true},
		{"defaultName", KindVar, false},
		{"cache.lookup", KindMethod, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := byName[tt.name]
			require.True(t, ok, "missing declaration %s", tt.name)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.exported, d.Exported)
			assert.LessOrEqual(t, d.StartLine, d.EndLine)
		})
	}

	assert.Equal(t, "func NewUser(id int, name string) *User", byName["NewUser"].Signature)
	assert.Equal(t, "func (*User) GetName() string", byName["User.GetName"].Signature)
}

func TestParseSource_OrderedByLine(t *testing.T) {
	decls, err := New().ParseSource("user.go", []byte(sampleSource))
	require.NoError(t, err)

	for i := 1; i < len(decls); i++ {
		assert.LessOrEqual(t, decls[i-1].StartLine, decls[i].StartLine)
	}
}

func TestParseSource_DocCommentExtendsSpan(t *testing.T) {
	decls, err := New().ParseSource("user.go", []byte(sampleSource))
	require.NoError(t, err)

	for _, d := range decls {
		if d.Name == "NewUser" {
			// "// NewUser creates a new user" is line 15
			assert.Equal(t, 15, d.StartLine)
			assert.Equal(t, 18, d.EndLine)
			return
		}
	}
	t.Fatal("NewUser not found")
}

func TestParseSource_SyntaxErrorKeepsPartialResult(t *testing.T) {
	src := `package broken

func Good() int { return 1 }

func Bad( {
`
	decls, err := New().ParseSource("broken.go", []byte(src))
	require.Error(t, err)

	var names []string
	for _, d := range decls {
		names = append(names, d.Name)
	}
	assert.Contains(t, names, "Good")
}

func TestParseSource_NotGo(t *testing.T) {
	_, err := New().ParseSource("readme.go", []byte("this is not go at all"))
	assert.Error(t, err)
}

func TestCovering(t *testing.T) {
	decls := []Declaration{
		{Name: "A", StartLine: 1, EndLine: 10},
		{Name: "B", StartLine: 12, EndLine: 20},
		{Name: "C", StartLine: 22, EndLine: 30},
	}

	got := Covering(decls, 9, 13)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].Name)
	assert.Equal(t, "B", got[1].Name)

	assert.Empty(t, Covering(decls, 31, 40))
	assert.Len(t, Covering(decls, 1, 30), 3)
}
