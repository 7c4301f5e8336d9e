// Copyright 2023 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// versionRegex follows apk-tools' version grammar, see
// https://github.com/alpinelinux/apk-tools/blob/50ab589e9a5a84592ee4c0ac5a49506bb6c552fc/src/version.c
//
// constraintRegex matches "name", "name<op>version" and an optional "@pin"
// repository tag, see https://wiki.alpinelinux.org/wiki/Alpine_Package_Keeper#Repository_pinning
var (
	versionRegex    = regexp.MustCompile(`^([0-9]+)((\.[0-9]+)*)([a-z]?)((_alpha|_beta|_pre|_rc)([0-9]*))?((_cvs|_svn|_git|_hg|_p)([0-9]*))?((-r)([0-9]+))?$`)
	constraintRegex = regexp.MustCompile(`^([^@=><~]+)(([=><~]+)([^@]+))?(@([a-zA-Z0-9]+))?$`)
	releaseRegex    = regexp.MustCompile(`-r\d+$`)
)

func init() {
	versionRegex.Longest()
	constraintRegex.Longest()
}

type preModifier int
type postModifier int

// the order of these matters!
const (
	preModifierNone  preModifier = 0
	preModifierAlpha preModifier = 1
	preModifierBeta  preModifier = 2
	preModifierPre   preModifier = 3
	preModifierRC    preModifier = 4
	preModifierMax   preModifier = 1000
)

const (
	postModifierNone postModifier = 0
	postModifierCVS  postModifier = 1
	postModifierSVN  postModifier = 2
	postModifierGit  postModifier = 3
	postModifierHG   postModifier = 4
	postModifierP    postModifier = 5
)

var (
	preModifiers = map[string]preModifier{
		"":       preModifierNone,
		"_alpha": preModifierAlpha,
		"_beta":  preModifierBeta,
		"_pre":   preModifierPre,
		"_rc":    preModifierRC,
	}
	postModifiers = map[string]postModifier{
		"":     postModifierNone,
		"_cvs": postModifierCVS,
		"_svn": postModifierSVN,
		"_git": postModifierGit,
		"_hg":  postModifierHG,
		"_p":   postModifierP,
	}
)

type Version struct {
	numbers          []int
	letter           rune
	preSuffix        preModifier
	preSuffixNumber  int
	postSuffix       postModifier
	postSuffixNumber int
	revision         int
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// ParseVersion parses an apk version string such as "1.2.3_rc1-r4".
func ParseVersion(version string) (Version, error) {
	m := versionRegex.FindStringSubmatch(version)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %s, could not parse", version)
	}

	first, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %s, first part is not number: %w", version, err)
	}
	v := Version{numbers: []int{first}}

	for i, s := range strings.Split(m[2], ".") {
		if s == "" {
			continue
		}
		num, err := strconv.Atoi(s)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %s, part %d is not number: %w", version, i, err)
		}
		v.numbers = append(v.numbers, num)
	}

	if m[4] != "" {
		v.letter = rune(m[4][0])
	}

	pre, ok := preModifiers[m[6]]
	if !ok {
		return Version{}, fmt.Errorf("invalid version %s, pre-suffix %s is not valid", version, m[6])
	}
	v.preSuffix = pre
	if v.preSuffixNumber, err = atoiOrZero(m[7]); err != nil {
		return Version{}, fmt.Errorf("invalid version %s, suffix %s number %s is not number: %w", version, m[6], m[7], err)
	}

	post, ok := postModifiers[m[9]]
	if !ok {
		return Version{}, fmt.Errorf("invalid version %s, suffix %s is not valid", version, m[9])
	}
	v.postSuffix = post
	if v.postSuffixNumber, err = atoiOrZero(m[10]); err != nil {
		return Version{}, fmt.Errorf("invalid version %s, post-suffix %s number %s is not number: %w", version, m[9], m[10], err)
	}

	if v.revision, err = atoiOrZero(m[13]); err != nil {
		return Version{}, fmt.Errorf("invalid version %s, revision %s is not number: %w", version, m[13], err)
	}

	return v, nil
}

// SplitRelease splits "1.2.3-r4" into "1.2.3" and "r4". Versions without a
// release suffix are returned unchanged with an empty release.
func SplitRelease(version string) (string, string) {
	loc := releaseRegex.FindStringIndex(version)
	if loc == nil {
		return version, ""
	}
	return version[:loc[0]], version[loc[0]+1:]
}

const (
	greater = 1
	equal   = 0
	less    = -1
)

func compareInts(a, b int) int {
	switch {
	case a > b:
		return greater
	case a < b:
		return less
	default:
		return equal
	}
}

// CompareVersions compares versions based on https://dev.gentoo.org/~ulm/pms/head/pms.html#x1-250003.2
func CompareVersions(actual, required Version) int {
	for i := 0; i < len(actual.numbers) && i < len(required.numbers); i++ {
		if c := compareInts(actual.numbers[i], required.numbers[i]); c != equal {
			return c
		}
	}
	if c := compareInts(len(actual.numbers), len(required.numbers)); c != equal {
		return c
	}
	if c := compareInts(int(actual.letter), int(required.letter)); c != equal {
		return c
	}

	// No pre-suffix sorts after any pre-release.
	actualPre, requiredPre := actual.preSuffix, required.preSuffix
	if actualPre == preModifierNone {
		actualPre = preModifierMax
	}
	if requiredPre == preModifierNone {
		requiredPre = preModifierMax
	}
	if c := compareInts(int(actualPre), int(requiredPre)); c != equal {
		return c
	}
	if c := compareInts(actual.preSuffixNumber, required.preSuffixNumber); c != equal {
		return c
	}

	// Post-suffixes are not pre-releases, so a missing one sorts first.
	if c := compareInts(int(actual.postSuffix), int(required.postSuffix)); c != equal {
		return c
	}
	if c := compareInts(actual.postSuffixNumber, required.postSuffixNumber); c != equal {
		return c
	}

	return compareInts(actual.revision, required.revision)
}

// includesVersion reports whether actual falls under the (possibly less
// specific) required version, as used by the "~" operator.
func includesVersion(actual, required Version) bool {
	if len(actual.numbers) < len(required.numbers) {
		return false
	}
	for i := range required.numbers {
		if actual.numbers[i] != required.numbers[i] {
			return false
		}
	}
	if len(actual.numbers) > len(required.numbers) {
		return true
	}
	if required.letter != 0 && actual.letter != required.letter {
		return false
	}
	if required.preSuffix != preModifierNone && actual.preSuffix != required.preSuffix {
		return false
	}
	if required.preSuffixNumber != 0 && actual.preSuffixNumber != required.preSuffixNumber {
		return false
	}
	if required.postSuffix != postModifierNone && actual.postSuffix != required.postSuffix {
		return false
	}
	if required.postSuffixNumber != 0 && actual.postSuffixNumber != required.postSuffixNumber {
		return false
	}
	if required.revision != 0 && actual.revision != required.revision {
		return false
	}
	return true
}

// Operator is the comparison in a versioned dependency.
type Operator int

const (
	OpAny Operator = iota
	OpEqual
	OpGreater
	OpLess
	OpGreaterEqual
	OpLessEqual
	OpTilde
)

var operators = map[string]Operator{
	"=":  OpEqual,
	">":  OpGreater,
	"<":  OpLess,
	">=": OpGreaterEqual,
	"<=": OpLessEqual,
	"~":  OpTilde,
}

func (o Operator) satisfies(actual, required Version) bool {
	if o == OpTilde {
		return includesVersion(actual, required)
	}
	c := CompareVersions(actual, required)
	switch o {
	case OpAny:
		return true
	case OpEqual:
		return c == equal
	case OpGreater:
		return c == greater
	case OpLess:
		return c == less
	case OpGreaterEqual:
		return c != less
	case OpLessEqual:
		return c != greater
	default:
		return false
	}
}

// Constraint is a parsed dependency or provides entry, e.g. "so:libc.so=1"
// or "busybox>=1.36@edge".
type Constraint struct {
	Name    string
	Version string
	Op      Operator
	Pin     string
}

// ParseConstraint splits a dependency string into its name, version
// comparison and repository pin.
func ParseConstraint(dep string) Constraint {
	// Shared library provides emitted by melange carry a bare soname version
	// (so:libfoo.so.1=1) instead of the package version. Those sort after
	// versions that carry a release suffix.
	if strings.HasPrefix(dep, "so:") {
		name, version, found := strings.Cut(dep, "=")
		if found && !releaseRegex.MatchString(version) {
			dep = name + "=0." + version
		}
	}

	m := constraintRegex.FindStringSubmatch(dep)
	if m == nil {
		return Constraint{Name: dep, Op: OpAny}
	}
	c := Constraint{
		Name:    m[1],
		Version: m[4],
		Pin:     m[6],
		Op:      OpAny,
	}
	if op, ok := operators[m[3]]; ok {
		c.Op = op
	}
	return c
}

var (
	parsedVersions    sync.Map // map[string]Version
	parsedConstraints sync.Map // map[string]Constraint
)

func cachedParseVersion(version string) (Version, error) {
	if v, ok := parsedVersions.Load(version); ok {
		return v.(Version), nil
	}
	parsed, err := ParseVersion(version)
	if err != nil {
		return parsed, err
	}
	parsedVersions.Store(version, parsed)
	return parsed, nil
}

// CachedParseConstraint is ParseConstraint memoized for the process.
func CachedParseConstraint(dep string) Constraint {
	if c, ok := parsedConstraints.Load(dep); ok {
		return c.(Constraint)
	}
	c := ParseConstraint(dep)
	parsedConstraints.Store(dep, c)
	return c
}

// SatisfiedBy reports whether a package or provide of the given version meets
// the constraint. Unparseable versions never satisfy a versioned constraint.
func (c Constraint) SatisfiedBy(version string) bool {
	if c.Op == OpAny {
		return true
	}
	if version == "" {
		return false
	}
	required, err := cachedParseVersion(c.Version)
	if err != nil {
		return false
	}
	actual, err := cachedParseVersion(version)
	if err != nil {
		return false
	}
	return c.Op.satisfies(actual, required)
}

// CompareVersionStrings compares two version strings. Unparseable versions
// sort before parseable ones; two unparseable versions compare lexically.
func CompareVersionStrings(a, b string) int {
	va, errA := cachedParseVersion(a)
	vb, errB := cachedParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return less
	case errB != nil:
		return greater
	default:
		return CompareVersions(va, vb)
	}
}
