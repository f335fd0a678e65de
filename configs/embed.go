// Package configs provides embedded configuration templates for fskb.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//   - Homebrew installations
//
// The templates are used by:
//   - cmd/fskb init      → writes project-config.example.yaml as .fskb.yaml
//   - cmd/fskb config init → writes user-config.example.yaml as ~/.config/fskb/config.yaml
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//  1. Hardcoded defaults (internal/config/config.go NewConfig())
//  2. User config (~/.config/fskb/config.yaml)
//  3. Project config (.fskb.yaml)
//  4. Environment variables (FSKB_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `fskb config init` at ~/.config/fskb/config.yaml
// Contains: machine-specific settings like resource limits and the embedding provider.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Created by: `fskb init` at .fskb.yaml in the project root.
// Contains: project-specific settings like roots, chunking, and indexing rules.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
