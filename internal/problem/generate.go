package problem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
)

// Topic selects a generator family. Mixed rotates deterministically across
// the concrete topics.
type Topic string

const (
	TopicMixed    Topic = "mixed"
	TopicMath     Topic = "math"
	TopicWords    Topic = "words"
	TopicLogic    Topic = "logic"
	TopicSequence Topic = "sequence"
	TopicEmoji    Topic = "emoji"
)

// TopicLabels maps topics to their display names.
var TopicLabels = map[Topic]string{
	TopicMixed:    "Mixed",
	TopicMath:     "Mental Math",
	TopicWords:    "Word Play",
	TopicLogic:    "Logic",
	TopicSequence: "Sequences",
	TopicEmoji:    "Emoji Math",
}

// ParseTopic returns the topic named by s, defaulting to mixed.
func ParseTopic(s string) Topic {
	t := Topic(s)
	if _, ok := TopicLabels[t]; !ok {
		return TopicMixed
	}
	return t
}

// topicKey is the short tag embedded in generated problem ids.
func (t Topic) key() string {
	if t == TopicSequence {
		return "seq"
	}
	return string(t)
}

var keyToTopic = map[string]Topic{
	"math":  TopicMath,
	"words": TopicWords,
	"logic": TopicLogic,
	"seq":   TopicSequence,
	"emoji": TopicEmoji,
}

// rng is a xorshift32 sequence yielding floats in [0, 1]. Fast, deterministic
// and stable across platforms, which is all the generators need.
type rng struct {
	x uint32
}

func newRNG(seed uint32) *rng {
	if seed == 0 {
		seed = 123456789
	}
	return &rng{x: seed}
}

func (r *rng) next() float64 {
	r.x ^= r.x << 13
	r.x ^= r.x >> 17
	r.x ^= r.x << 5
	return float64(r.x) / float64(0xffffffff)
}

func (r *rng) intn(n int) int {
	i := int(r.next() * float64(n))
	if i >= n { // next() is inclusive of 1.0
		i = n - 1
	}
	return i
}

func pick[T any](r *rng, arr []T) T {
	return arr[r.intn(len(arr))]
}

// GenerateForSeed builds a problem for a concrete topic. Pure: for fixed
// (seed, topic) the same problem and answer come back every time, including
// after process restarts. The ground truth is always computed analytically,
// never by a solver. Mixed rotates by hashing the seed to a topic index.
func GenerateForSeed(seed string, topic Topic) domain.Problem {
	switch topic {
	case TopicMath:
		return mathProblem(seed)
	case TopicWords:
		return wordProblem(seed)
	case TopicLogic:
		return logicProblem(seed)
	case TopicSequence:
		return sequenceProblem(seed)
	case TopicEmoji:
		return emojiProblem(seed)
	default:
		topics := []Topic{TopicMath, TopicWords, TopicLogic, TopicSequence, TopicEmoji}
		return GenerateForSeed(seed, topics[int(fold32("mix:"+seed))%len(topics)])
	}
}

// ReconstructFromID re-derives a generated problem from its public id of the
// form "gen-<topic>-<hash8>_<nonce>" plus the seed carried by the round
// token. This is the stateless-resume path: nothing was cached at start.
func ReconstructFromID(id, seed string) (domain.Problem, bool) {
	if !strings.HasPrefix(id, "gen-") {
		return domain.Problem{}, false
	}

	sep := strings.LastIndexByte(id, '_')
	if sep <= 0 || sep == len(id)-1 {
		return domain.Problem{}, false
	}
	nonce := id[sep+1:]

	parts := strings.Split(id[:sep], "-")
	if len(parts) < 2 {
		return domain.Problem{}, false
	}

	topic, ok := keyToTopic[parts[1]]
	if !ok {
		return domain.Problem{}, false
	}

	p := GenerateForSeed(seed+":"+nonce, topic)
	p.ID = p.ID + "_" + nonce
	if p.ID != id {
		return domain.Problem{}, false
	}

	return p, true
}

// GeneratedID returns the public id for a generated problem diversified by
// nonce, as handed to clients by round start.
func GeneratedID(base domain.Problem, nonce string) string {
	return base.ID + "_" + nonce
}

func genID(topic Topic, seed string) string {
	s := seed
	if len(s) > 8 {
		s = s[:8]
	}
	return "gen-" + topic.key() + "-" + s
}

func mathProblem(seed string) domain.Problem {
	r := newRNG(fold32("math:" + seed))
	a := 10 + r.intn(20) // 10..29
	b := 2 + r.intn(9)   // 2..10
	c := 1 + r.intn(10)  // 1..10

	if r.next() < 0.5 {
		return domain.Problem{
			ID:     genID(TopicMath, seed),
			Type:   domain.ProblemTypeShort,
			Prompt: fmt.Sprintf("What is %d × %d − %d?", a, b, c),
			Answer: strconv.Itoa(a*b - c),
		}
	}
	return domain.Problem{
		ID:     genID(TopicMath, seed),
		Type:   domain.ProblemTypeShort,
		Prompt: fmt.Sprintf("What is %d + %d × %d?", a, b, c),
		Answer: strconv.Itoa(a + b*c),
	}
}

func wordProblem(seed string) domain.Problem {
	r := newRNG(fold32("words:" + seed))
	words := []string{"stressed", "drawer", "banana", "human", "groq"}
	w := pick(r, words)

	// Third character of the reversed word.
	const idx = 3
	rev := []rune(w)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	answer := strings.ToUpper(string(rev[idx-1]))

	return domain.Problem{
		ID:     genID(TopicWords, seed),
		Type:   domain.ProblemTypeShort,
		Prompt: fmt.Sprintf("Reverse the word '%s' and give the %drd character of the result.", w, idx),
		Answer: answer,
	}
}

func logicProblem(seed string) domain.Problem {
	r := newRNG(fold32("logic:" + seed))
	sets := []struct {
		choices []string
		answer  string
	}{
		{choices: []string{"SQUARE", "TRIANGLE", "CIRCLE", "RECTANGLE"}, answer: "CIRCLE"},
		{choices: []string{"RED", "BLUE", "SEVEN", "GREEN"}, answer: "SEVEN"},
		{choices: []string{"DOG", "CAT", "BIRD", "CAR"}, answer: "CAR"},
	}
	s := pick(r, sets)

	return domain.Problem{
		ID:      genID(TopicLogic, seed),
		Type:    domain.ProblemTypeMCQ,
		Prompt:  "Odd one out:",
		Choices: s.choices,
		Answer:  s.answer,
	}
}

func sequenceProblem(seed string) domain.Problem {
	r := newRNG(fold32("seq:" + seed))

	if r.next() < 0.5 {
		return domain.Problem{
			ID:     genID(TopicSequence, seed),
			Type:   domain.ProblemTypeShort,
			Prompt: "Fill the blank: 2, 3, 5, 8, 13, __",
			Answer: "21",
		}
	}

	a := 3 + r.intn(5) // 3..7
	d := 2 + r.intn(4) // 2..5
	return domain.Problem{
		ID:     genID(TopicSequence, seed),
		Type:   domain.ProblemTypeShort,
		Prompt: fmt.Sprintf("Fill the blank: %d, %d, %d, %d, __", a, a+d, a+2*d, a+3*d),
		Answer: strconv.Itoa(a + 4*d),
	}
}

func emojiProblem(seed string) domain.Problem {
	r := newRNG(fold32("emoji:" + seed))
	pairs := []struct {
		a  string
		av int
		b  string
		bv int
	}{
		{a: "😀", av: 3, b: "😎", bv: 5},
		{a: "🔥", av: 4, b: "❄️", bv: 2},
	}
	m := pick(r, pairs)

	return domain.Problem{
		ID:     genID(TopicEmoji, seed),
		Type:   domain.ProblemTypeShort,
		Prompt: fmt.Sprintf("If %s=%d and %s=%d, what is %s+%s?", m.a, m.av, m.b, m.bv, m.a, m.b),
		Answer: strconv.Itoa(m.av + m.bv),
	}
}
