package metadata

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agpm-dev/agpm/pkg/constants"
	"github.com/agpm-dev/agpm/pkg/engineerr"
)

// Skill is a skill dependency's required SKILL.md metadata.
//
// Adapted from the teacher's pkg/parser/skills_parser.go SkillMetadata:
// the name/description/validity shape is unchanged, but parsing now goes
// through this package's ExtractMarkdown rather than the undefined
// ExtractFrontmatterFromContent the teacher's own file called (see
// DESIGN.md), and DiscoverSkills/directory-marker detection has moved to
// pkg/patternexpand, which needs it during glob expansion rather than
// after the fact.
type Skill struct {
	Name        string
	Description string
	Dir         string
	Valid       bool
}

// ParseSkill reads <dir>/SKILL.md and extracts its name/description.
func ParseSkill(dir string) (*Skill, error) {
	path := filepath.Join(dir, constants.SkillMarkerFile)
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	ex, err := ExtractMarkdown(path, content, nil)
	if err != nil {
		return nil, err
	}

	s := &Skill{Dir: dir}
	if name, ok := ex.Frontmatter["name"].(string); ok {
		s.Name = name
	}
	if desc, ok := ex.Frontmatter["description"].(string); ok {
		s.Description = desc
	}
	s.Valid = s.Name != "" && s.Description != ""
	if !s.Valid {
		log.Printf("%s: missing required name/description frontmatter", path)
	}
	return s, nil
}

// ValidateSkill returns an error if the skill directory at dir lacks a
// valid SKILL.md (present, with both name and description set).
func ValidateSkill(dir string) error {
	s, err := ParseSkill(dir)
	if err != nil {
		return err
	}
	if !s.Valid {
		return engineerr.New(engineerr.KindMetadata, filepath.Join(dir, constants.SkillMarkerFile),
			"skill is missing required frontmatter fields (name and description)")
	}
	return nil
}
