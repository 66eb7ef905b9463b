// Package roster keeps the in-memory student list behind the Mahasiswa page.
package roster

import (
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

var (
	// ErrMissingField is returned when name, NIM or program is empty.
	ErrMissingField = errors.New("name, nim and program are required")
	// ErrUnknownProgram is returned for a program outside Programs.
	ErrUnknownProgram = errors.New("unknown program")
)

// Programs is the fixed set of study programs a student can belong to.
var Programs = []string{
	"Teknik Informatika",
	"Sistem Informasi",
	"Teknik Komputer",
	"Teknik Elektro",
}

// Student is a registered student.
type Student struct {
	ID      int    `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	NIM     string `json:"nim" yaml:"nim"`
	Program string `json:"program" yaml:"program"`
	Photo   string `json:"photo" yaml:"photo"`
}

// NewStudent is the add-student form.
type NewStudent struct {
	Name    string
	NIM     string
	Program string
	Photo   string
}

//go:embed seed.yaml
var seedYAML []byte

// Seed returns the fixed demo students.
func Seed() ([]Student, error) {
	var doc struct {
		Students []Student `yaml:"students"`
	}
	if err := yaml.Unmarshal(seedYAML, &doc); err != nil {
		return nil, fmt.Errorf("decode roster seed: %w", err)
	}
	return doc.Students, nil
}

// Store is an ordered, append-only student list.
type Store struct {
	mu       sync.RWMutex
	students []Student
	nextID   int
	avatar   func() string
}

// NewStore creates a store holding the given students. Ids for new
// students continue after the highest seeded id.
func NewStore(seed []Student) *Store {
	s := &Store{
		students: append([]Student(nil), seed...),
		nextID:   1,
		avatar:   PlaceholderPhoto,
	}
	for _, st := range seed {
		if st.ID >= s.nextID {
			s.nextID = st.ID + 1
		}
	}
	return s
}

// PlaceholderPhoto returns a random avatar URI for students added without
// a photo.
func PlaceholderPhoto() string {
	return fmt.Sprintf("https://i.pravatar.cc/150?img=%d", rand.Intn(70))
}

// Validate trims the form and checks required fields and the program.
func Validate(in NewStudent) (NewStudent, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.NIM = strings.TrimSpace(in.NIM)
	in.Program = strings.TrimSpace(in.Program)
	if in.Name == "" || in.NIM == "" || in.Program == "" {
		return NewStudent{}, ErrMissingField
	}
	if !validProgram(in.Program) {
		return NewStudent{}, fmt.Errorf("%w: %q", ErrUnknownProgram, in.Program)
	}
	return in, nil
}

// Add validates and appends a student.
func (s *Store) Add(in NewStudent) (Student, error) {
	in, err := Validate(in)
	if err != nil {
		return Student{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	photo := in.Photo
	if photo == "" {
		photo = s.avatar()
	}
	st := Student{ID: s.nextID, Name: in.Name, NIM: in.NIM, Program: in.Program, Photo: photo}
	s.nextID++
	s.students = append(s.students, st)
	return st, nil
}

// List returns a copy of all students in insertion order.
func (s *Store) List() []Student {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Student(nil), s.students...)
}

// Search returns the students matching query, see Filter.
func (s *Store) Search(query string) []Student {
	return Filter(s.List(), query)
}

// ByNIM looks a student up by NIM.
func (s *Store) ByNIM(nim string) (Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.NIM == nim {
			return st, true
		}
	}
	return Student{}, false
}

// Count returns the number of students.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.students)
}

// Filter keeps students whose name, NIM or program contains search,
// ignoring case. Order is preserved; an empty search keeps everything.
func Filter(students []Student, search string) []Student {
	if search == "" {
		return students
	}
	needle := strings.ToLower(search)
	out := make([]Student, 0, len(students))
	for _, st := range students {
		if strings.Contains(strings.ToLower(st.Name), needle) ||
			strings.Contains(strings.ToLower(st.NIM), needle) ||
			strings.Contains(strings.ToLower(st.Program), needle) {
			out = append(out, st)
		}
	}
	return out
}

func validProgram(p string) bool {
	for _, known := range Programs {
		if p == known {
			return true
		}
	}
	return false
}
