// Build artifact detection from JVM build files.
// Parses pom.xml and looks for Gradle class directories to find program inputs.
package config

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
)

// ManifestCandidates are input manifests build plugins write, checked in order
var ManifestCandidates = []string{
	"build/shrinker-inputs.toml",
	"target/shrinker-inputs.toml",
}

// BuildArtifactDetector finds the compiled class directories of a JVM project
type BuildArtifactDetector struct {
	projectRoot string
}

// NewBuildArtifactDetector creates a new build artifact detector
func NewBuildArtifactDetector(projectRoot string) *BuildArtifactDetector {
	return &BuildArtifactDetector{projectRoot: projectRoot}
}

// DetectManifest returns the first input manifest found, relative to the
// project root, or "" when there is none
func (bad *BuildArtifactDetector) DetectManifest() string {
	for _, c := range ManifestCandidates {
		if bad.exists(c) {
			return c
		}
	}
	return ""
}

// DetectProgramInputs returns the class directories produced by Maven or
// Gradle, each paired with an output directory next to it. Paths are relative
// to the project root.
func (bad *BuildArtifactDetector) DetectProgramInputs() []ProgramInput {
	var out []ProgramInput
	out = append(out, bad.detectMavenOutputs()...)
	out = append(out, bad.detectGradleOutputs()...)
	return out
}

func (bad *BuildArtifactDetector) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(bad.projectRoot, rel))
	return err == nil
}

type pomBuild struct {
	Build struct {
		Directory       string `xml:"directory"`
		OutputDirectory string `xml:"outputDirectory"`
	} `xml:"build"`
}

// detectMavenOutputs reads build.outputDirectory from pom.xml, defaulting to target/classes
func (bad *BuildArtifactDetector) detectMavenOutputs() []ProgramInput {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, "pom.xml"))
	if err != nil {
		return nil
	}
	var pom pomBuild
	if xml.Unmarshal(data, &pom) != nil {
		return nil
	}
	target := pom.Build.Directory
	if target == "" || containsProperty(target) {
		target = "target"
	}
	classes := pom.Build.OutputDirectory
	if classes == "" || containsProperty(classes) {
		classes = filepath.Join(target, "classes")
	}
	return []ProgramInput{{Path: filepath.ToSlash(classes), Output: filepath.ToSlash(filepath.Join(target, "shrunk-classes"))}}
}

// containsProperty reports Maven ${...} interpolation, which is not expanded
func containsProperty(s string) bool {
	return strings.Contains(s, "${")
}

// detectGradleOutputs finds the per-language main class directories
func (bad *BuildArtifactDetector) detectGradleOutputs() []ProgramInput {
	if !bad.exists("build.gradle") && !bad.exists("build.gradle.kts") {
		return nil
	}
	var out []ProgramInput
	for _, lang := range []string{"java", "kotlin"} {
		dir := "build/classes/" + lang + "/main"
		if bad.exists(dir) {
			out = append(out, ProgramInput{Path: dir, Output: "build/shrunk/" + lang + "/main"})
		}
	}
	if len(out) == 0 {
		out = append(out, ProgramInput{Path: "build/classes/java/main", Output: "build/shrunk/java/main"})
	}
	return out
}
