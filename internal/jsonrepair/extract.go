package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// maxCandidates ограничивает перебор вложенных кандидатов на патологическом тексте.
const maxCandidates = 64

const (
	StageDirect = "direct"
	StageScan   = "scan"
	StageRepair = "repair"
)

var (
	ErrEmpty    = errors.New("model response is empty")
	ErrNoObject = errors.New("model response does not contain a json object")
)

// ExtractError carries the original model text and the stage that failed.
type ExtractError struct {
	Original  string
	Stage     string
	Candidate string
	Err       error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract json at %s stage: %v", e.Stage, e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Extract находит в ответе модели JSON-объект, при необходимости чинит его и возвращает разобранный результат.
// Если кандидат не разбирается даже после Repair, проверяются объекты, вложенные в него.
func Extract(input string) (map[string]any, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &ExtractError{Original: input, Stage: StageDirect, Err: ErrEmpty}
	}

	if object, err := decodeObject(trimmed); err == nil {
		return object, nil
	}

	queue := Candidates(trimmed)
	if len(queue) == 0 {
		return nil, &ExtractError{Original: input, Stage: StageScan, Err: ErrNoObject}
	}

	// незакрытая скобка в тексте поглощает настоящий объект
	seen := make(map[string]struct{})
	var firstErr *ExtractError
	for len(queue) > 0 && len(seen) < maxCandidates {
		nested := make([]string, 0)
		for _, candidate := range queue {
			if _, ok := seen[candidate]; ok {
				continue
			}
			if len(seen) >= maxCandidates {
				break
			}
			seen[candidate] = struct{}{}

			object, repaired, err := decodeCandidate(candidate)
			if err == nil {
				return object, nil
			}

			if firstErr == nil {
				firstErr = &ExtractError{Original: input, Stage: StageRepair, Candidate: repaired, Err: err}
			}
			nested = append(nested, Candidates(candidate[1:])...)
		}

		sortLongestFirst(nested)
		queue = nested
	}

	return nil, firstErr
}

// decodeCandidate разбирает кандидата как есть, а затем после Repair.
func decodeCandidate(candidate string) (map[string]any, string, error) {
	if object, err := decodeObject(candidate); err == nil {
		return object, candidate, nil
	}

	repaired := Repair(candidate)
	object, err := decodeObject(repaired)

	return object, repaired, err
}

// Candidates возвращает все подстроки верхнего уровня вида {...}, от самой длинной к самой короткой.
// Незакрытый объект в конце текста тоже считается кандидатом.
func Candidates(input string) []string {
	candidates := make([]string, 0)

	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(input); i++ {
		ch := input[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			// quotes in surrounding prose do not open strings
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				candidates = append(candidates, input[start:i+1])
				start = -1
			}
		}
	}

	if depth > 0 && start >= 0 {
		candidates = append(candidates, input[start:])
	}

	sortLongestFirst(candidates)

	return candidates
}

func sortLongestFirst(candidates []string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
}

func decodeObject(input string) (map[string]any, error) {
	var object map[string]any
	if err := json.Unmarshal([]byte(input), &object); err != nil {
		return nil, err
	}

	if object == nil {
		return nil, ErrNoObject
	}

	return object, nil
}
