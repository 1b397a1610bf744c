// Package publish parses the legacy pipeline's daily publish log into the
// per-submission work items the sync engine executes.
package publish

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"

	"github.com/arXiv/arxiv-sync/identifier"
)

// Action is what the sync engine must do with a todo item.
type Action string

const (
	// ActionUpload copies one existing file into the destination bucket.
	ActionUpload Action = "upload"
	// ActionBuildUpload first ensures the versioned PDF exists in ps_cache,
	// then uploads it.
	ActionBuildUpload Action = "build+upload"
)

// SubType classifies the submission a todo item came from.
type SubType string

const (
	SubNew         SubType = "new"
	SubReplacement SubType = "rep"
	SubWithdrawal  SubType = "wdr"
	SubCross       SubType = "cross"
	SubJournalRef  SubType = "jref"
)

// Todo is one unit of sync work derived from the publish log.
type Todo struct {
	// SubID is the legacy pipeline's submission number.
	SubID int `json:"submission"`
	// Type is the submission classification.
	Type SubType `json:"type"`
	// IDV is the canonical versioned identifier (unversioned for cross and
	// journal-ref entries, which the log reports without a version).
	IDV string `json:"id"`
	// Action is upload or build+upload.
	Action Action `json:"action"`
	// Item is a local file path for uploads, or the versioned identifier for
	// build+upload actions.
	Item string `json:"item"`

	// ID is the parsed identifier backing IDV.
	ID identifier.ID `json:"-"`
}

// Submission block structure. The start line carries the submission number;
// everything up to and including the "Finished processing" line is the block
// body the per-type patterns run against.
var (
	subStartRE = regexp.MustCompile(`.* submission (\d+)$`)
	subEndRE   = regexp.MustCompile(`.*Finished processing submission `)

	testRE  = regexp.MustCompile(` Test Submission\. Skipping\.`)
	newRE   = regexp.MustCompile(`(?m)^.* new submission\n.* paper_id: (.*)$`)
	repRE   = regexp.MustCompile(`(?m)^.* replacement for (.*)\n.*\n.* old version: (\d+)\n.* new version: (\d+)`)
	wdrRE   = regexp.MustCompile(`(?m)^.* withdrawal of (.*)\n.*\n.* old version: (\d+)\n.* new version: (\d+)`)
	crossRE = regexp.MustCompile(` cross for (.*)`)
	jrefRE  = regexp.MustCompile(` journal ref for (.*)`)

	absRE     = regexp.MustCompile(`(?m)^.* absfile: (.*)$`)
	srcPDFRE  = regexp.MustCompile(`(?m)^.* Document source: (.*\.pdf)$`)
	srcHTMLRE = regexp.MustCompile(`(?m)^.* Document source: (.*\.html\.gz)$`)
	srcTexRE  = regexp.MustCompile(`(?m)^.* Document source: (.*\.gz)$`)
	movedRE   = regexp.MustCompile(`(?m)^.* Moved (.*) => (.*)$`)
)

// Parser derives todos from publish logs. Only cross and journal-ref entries
// need the FTP prefix; every other path is taken verbatim from the log.
type Parser struct {
	ftpPrefix string
}

// NewParser returns a Parser rooted at the given FTP prefix.
func NewParser(ftpPrefix string) *Parser {
	return &Parser{ftpPrefix: ftpPrefix}
}

// ParseFile reads a publish log, transparently decompressing *.gz files.
func (p *Parser) ParseFile(path string) ([]Todo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening publish log '%s'", path)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "reading gzipped publish log '%s'", path)
		}
		defer gz.Close()
		r = gz
	}

	todos, err := p.Parse(r)
	return todos, errors.Wrapf(err, "parsing publish log '%s'", path)
}

type submission struct {
	id   int
	text string
}

// Parse scans the log for submission blocks and derives the todo list. The
// list preserves log order; it only uses data present in the publish file.
func (p *Parser) Parse(r io.Reader) ([]Todo, error) {
	subs, err := collectSubmissions(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var todos []Todo
	for _, sub := range subs {
		items, err := p.submissionTodos(sub)
		if err != nil {
			return nil, errors.Wrapf(err, "submission %d", sub.id)
		}
		todos = append(todos, items...)
	}
	return todos, nil
}

func collectSubmissions(r io.Reader) ([]submission, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		subs  []submission
		inSub bool
		subID int
		lines []string
	)
	for scanner.Scan() {
		line := scanner.Text()
		if !inSub {
			if m := subStartRE.FindStringSubmatch(line); m != nil {
				subID, _ = strconv.Atoi(m[1])
				inSub = true
				lines = lines[:0]
			}
			continue
		}
		lines = append(lines, line)
		if subEndRE.MatchString(line) {
			subs = append(subs, submission{id: subID, text: strings.Join(lines, "\n")})
			inSub = false
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "scanning publish log")
	}
	// A block the log never closed has no reliable contents; drop it the way
	// the legacy pipeline does.
	return subs, nil
}

func (p *Parser) submissionTodos(sub submission) ([]Todo, error) {
	if testRE.MatchString(sub.text) {
		return nil, nil
	}

	if m := newRE.FindStringSubmatch(sub.text); m != nil {
		id, err := identifier.Parse(strings.TrimSpace(m[1]))
		if err != nil {
			return nil, errors.Wrap(err, "new submission id")
		}
		return absSourceTodos(sub, id.WithVersion(1), SubNew), nil
	}

	if m := repRE.FindStringSubmatch(sub.text); m != nil {
		id, err := versionedID(m[1], m[3])
		if err != nil {
			return nil, errors.Wrap(err, "replacement id")
		}
		todos := movedTodos(sub, id, SubReplacement)
		return append(todos, absSourceTodos(sub, id, SubReplacement)...), nil
	}

	if m := wdrRE.FindStringSubmatch(sub.text); m != nil {
		id, err := versionedID(m[1], m[3])
		if err != nil {
			return nil, errors.Wrap(err, "withdrawal id")
		}
		// Withdrawals lack buildable source, so the PDF is never ensured.
		todos := movedTodos(sub, id, SubWithdrawal)
		for _, todo := range absSourceTodos(sub, id, SubWithdrawal) {
			if todo.Action != ActionBuildUpload {
				todos = append(todos, todo)
			}
		}
		return todos, nil
	}

	if m := crossRE.FindStringSubmatch(sub.text); m != nil {
		return p.absOnlyTodos(sub, m[1], SubCross)
	}

	if m := jrefRE.FindStringSubmatch(sub.text); m != nil {
		return p.absOnlyTodos(sub, m[1], SubJournalRef)
	}

	return nil, nil
}

func versionedID(raw, version string) (identifier.ID, error) {
	id, err := identifier.Parse(strings.TrimSpace(raw))
	if err != nil {
		return identifier.ID{}, err
	}
	v, err := strconv.Atoi(version)
	if err != nil {
		return identifier.ID{}, errors.Wrapf(err, "version '%s'", version)
	}
	return id.WithVersion(v), nil
}

// movedTodos uploads the destination of every "Moved src => dst" line. On
// replacements and withdrawals the prior version's files move under
// /data/orig, and those moved copies must reach the bucket too.
func movedTodos(sub submission, id identifier.ID, subType SubType) []Todo {
	var todos []Todo
	for _, m := range movedRE.FindAllStringSubmatch(sub.text, -1) {
		todos = append(todos, Todo{
			SubID:  sub.id,
			Type:   subType,
			IDV:    id.IDV(),
			Action: ActionUpload,
			Item:   m[2],
			ID:     id,
		})
	}
	return todos
}

// absOnlyTodos covers cross and journal-ref entries, where only an id is
// available and only the abs file changes.
func (p *Parser) absOnlyTodos(sub submission, raw string, subType SubType) ([]Todo, error) {
	id, err := identifier.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, errors.Wrapf(err, "%s id", subType)
	}
	return []Todo{{
		SubID:  sub.id,
		Type:   subType,
		IDV:    id.IDV(),
		Action: ActionUpload,
		Item:   id.AbsPath(p.ftpPrefix),
		ID:     id,
	}}, nil
}

// absSourceTodos uploads the abs file and the document source named in the
// block. TeX sources additionally queue a PDF build; the html pattern must be
// checked before the generic .gz one, which it also matches.
func absSourceTodos(sub submission, id identifier.ID, subType SubType) []Todo {
	upload := func(item string) Todo {
		return Todo{SubID: sub.id, Type: subType, IDV: id.IDV(), Action: ActionUpload, Item: item, ID: id}
	}

	var todos []Todo
	if m := absRE.FindStringSubmatch(sub.text); m != nil {
		todos = append(todos, upload(m[1]))
	}

	if m := srcPDFRE.FindStringSubmatch(sub.text); m != nil {
		todos = append(todos, upload(m[1]))
	} else if m := srcHTMLRE.FindStringSubmatch(sub.text); m != nil {
		todos = append(todos, upload(m[1]))
	} else if m := srcTexRE.FindStringSubmatch(sub.text); m != nil {
		todos = append(todos, upload(m[1]))
		todos = append(todos, Todo{
			SubID:  sub.id,
			Type:   subType,
			IDV:    id.IDV(),
			Action: ActionBuildUpload,
			Item:   id.IDV(),
			ID:     id,
		})
	} else {
		grip.Error(message.Fields{
			"message":    "could not determine document source for submission",
			"submission": sub.id,
			"id":         id.IDV(),
		})
	}
	return todos
}

// SubmissionCount reports the number of distinct submissions in a todo list.
func SubmissionCount(todos []Todo) int {
	seen := map[int]struct{}{}
	for _, todo := range todos {
		seen[todo.SubID] = struct{}{}
	}
	return len(seen)
}
