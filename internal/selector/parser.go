package selector

// Limits bounds selector input size. Authored content is untrusted at
// load time; a degenerate or hostile document must not be able to make
// the parser intern unbounded node chains.
type Limits struct {
	// MaxLength is the maximum selector string length in bytes.
	MaxLength int

	// MaxTerms is the maximum number of ':'-refined terms per chain.
	MaxTerms int

	// MaxChains is the maximum number of ','-united chains.
	MaxChains int
}

// DefaultLimits covers every selector seen in real content with wide
// margin.
var DefaultLimits = Limits{MaxLength: 512, MaxTerms: 16, MaxChains: 16}

// term is one parsed span: a prefix plus identifier (or event
// keyword). start is the byte offset of the prefix character.
type term struct {
	kind  Kind
	token string
	start int
}

// chain is a ':'-joined run of terms. end is the byte offset one past
// the last term, so input[terms[i].start:end] is the substring a node
// built at term i structurally depends on.
type chain struct {
	terms []term
	end   int
}

// Validate parse-checks input against limits without touching any
// registry state, for load-time linting of authored content.
func Validate(input string, limits Limits) error {
	if _, perr := scan(input, limits); perr != nil {
		return perr
	}
	return nil
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '_' || c == '-'
}

// scan tokenizes input into chains of terms in one left-to-right
// pass, validating as it goes. It allocates only the span slices and
// never interns: a selector that fails anywhere produces no nodes.
func scan(input string, limits Limits) ([]chain, *ParseError) {
	if input == "" {
		return nil, errAt(CodeEmptyInput, input, "", 0, "empty selector")
	}
	if limits.MaxLength > 0 && len(input) > limits.MaxLength {
		return nil, errAt(CodeLimitExceeded, input, "", 0,
			"selector length %d exceeds limit %d", len(input), limits.MaxLength)
	}

	var chains []chain
	cur := chain{}
	i := 0
	for {
		if i >= len(input) {
			// A term was expected here, so a delimiter was the last
			// character.
			return nil, errAt(CodeEmptyToken, input, "", i, "trailing delimiter")
		}

		var t term
		switch c := input[i]; c {
		case ',', ':':
			return nil, errAt(CodeEmptyToken, input, string(c), i, "empty token before %q", string(c))
		case '@', '#':
			j := i + 1
			for j < len(input) && isIdentChar(input[j]) {
				j++
			}
			if j == i+1 {
				return nil, errAt(CodeMissingIdentifier, input, string(c), i,
					"prefix %q requires an identifier", string(c))
			}
			if j < len(input) && input[j] != ',' && input[j] != ':' {
				return nil, errAt(CodeInvalidCharacter, input, string(input[j]), j,
					"invalid character %q in identifier", string(input[j]))
			}
			kind := KindID
			if c == '#' {
				kind = KindTag
			}
			t = term{kind: kind, token: input[i+1 : j], start: i}
			i = j
		case '!':
			j := i + 1
			for j < len(input) && isIdentChar(input[j]) {
				j++
			}
			if j == i+1 {
				return nil, errAt(CodeMissingIdentifier, input, "!", i,
					"prefix %q requires an event keyword", "!")
			}
			if j < len(input) && input[j] != ',' && input[j] != ':' {
				return nil, errAt(CodeInvalidCharacter, input, string(input[j]), j,
					"invalid character %q in event keyword", string(input[j]))
			}
			switch keyword := input[i+1 : j]; keyword {
			case "enter":
				t = term{kind: KindCollisionEnter, start: i}
			case "exit":
				t = term{kind: KindCollisionExit, start: i}
			default:
				return nil, errAt(CodeUnknownEventKeyword, input, keyword, i,
					"unknown event keyword %q: must be enter or exit", keyword)
			}
			i = j
		default:
			return nil, errAt(CodeInvalidPrefix, input, string(c), i,
				"invalid prefix %q: must be '@', '#', or '!'", string(c))
		}

		cur.terms = append(cur.terms, t)
		if limits.MaxTerms > 0 && len(cur.terms) > limits.MaxTerms {
			return nil, errAt(CodeLimitExceeded, input, "", t.start,
				"chain exceeds %d terms", limits.MaxTerms)
		}

		if i >= len(input) {
			cur.end = i
			chains = append(chains, cur)
			break
		}
		switch input[i] {
		case ':':
			i++
		case ',':
			cur.end = i
			chains = append(chains, cur)
			if limits.MaxChains > 0 && len(chains) >= limits.MaxChains {
				return nil, errAt(CodeLimitExceeded, input, "", i,
					"selector exceeds %d chains", limits.MaxChains)
			}
			cur = chain{}
			i++
		}
	}
	return chains, nil
}
