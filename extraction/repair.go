// Copyright 2025 Poiesic Systems
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


package extraction

import (
	"regexp"
	"strings"
)

var fencedJSON = regexp.MustCompile("```(?:json|JSON)?\\s*([\\s\\S]*?)\\s*```")

// stripFences returns the body of the first fenced block in s, or s itself
// when there is none.
func stripFences(s string) string {
	if m := fencedJSON.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// repairJSON fixes formatting slips common in model output: keys missing
// their opening quote (`, type":` becomes `, "type":`) and trailing commas
// before a closing bracket. Text inside string literals is left alone.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)

	inString := false
	escaped := false
	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
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
			inString = true
			out = append(out, ch)

		case ',':
			// Drop the comma when only whitespace separates it from } or ].
			j := skipSpace(in, i+1)
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				continue
			}
			out = append(out, ch)
			i = copyUnquotedKey(in, i+1, &out)

		case '{':
			out = append(out, ch)
			i = copyUnquotedKey(in, i+1, &out)

		default:
			out = append(out, ch)
		}
	}

	return string(out)
}

// copyUnquotedKey looks for a key starting at i that lacks its opening
// quote. It appends the whitespace and, when found, the quoted key to out
// and returns the index of the last rune consumed.
func copyUnquotedKey(in []rune, i int, out *[]rune) int {
	j := skipSpace(in, i)
	*out = append(*out, in[i:j]...)

	if j >= len(in) || !isLetter(in[j]) {
		return j - 1
	}

	k := j
	for k < len(in) && (isLetter(in[k]) || isDigit(in[k]) || in[k] == '_') {
		k++
	}
	if k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
		*out = append(*out, '"')
		*out = append(*out, in[j:k]...)
		// The closing quote is consumed by the main loop as the start of a
		// string, so emit it here and skip past it.
		*out = append(*out, '"')
		return k
	}
	return j - 1
}

func skipSpace(in []rune, i int) int {
	for i < len(in) && (in[i] == ' ' || in[i] == '\n' || in[i] == '\t' || in[i] == '\r') {
		i++
	}
	return i
}

func isLetter(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}
