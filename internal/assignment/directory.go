package assignment

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StaticDirectory — RoleDirectory из фиксированного списка.
//
// Формат YAML-файла:
//
//	actors:
//	  alice: [employee]
//	  bob: [manager]
//	  root: [admin]
type StaticDirectory struct {
	roles map[string][]string
}

// NewStaticDirectory создаёт справочник из map actor → роли.
func NewStaticDirectory(roles map[string][]string) *StaticDirectory {
	if roles == nil {
		roles = make(map[string][]string)
	}
	return &StaticDirectory{roles: roles}
}

// LoadStaticDirectory читает справочник из YAML-файла.
func LoadStaticDirectory(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roles file: %w", err)
	}

	var file struct {
		Actors map[string][]string `yaml:"actors"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse roles file: %w", err)
	}
	return NewStaticDirectory(file.Actors), nil
}

// RolesOf возвращает роли пользователя.
func (d *StaticDirectory) RolesOf(ctx context.Context, actorID string) ([]string, error) {
	return d.roles[actorID], nil
}
