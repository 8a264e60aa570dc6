// Package api is the HTTP surface. Handlers bind JSON, delegate to the
// services and translate service errors into status codes with the
// machine-readable tag clients branch on.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/bchewy/canyoubeatgroq/internal/domain"
	"github.com/bchewy/canyoubeatgroq/internal/errors"
	"github.com/bchewy/canyoubeatgroq/internal/event"
	"github.com/bchewy/canyoubeatgroq/internal/history"
	"github.com/bchewy/canyoubeatgroq/internal/judge"
	"github.com/bchewy/canyoubeatgroq/internal/leaderboard"
	"github.com/bchewy/canyoubeatgroq/internal/round"
	"github.com/bchewy/canyoubeatgroq/internal/typeracer"
)

type Config struct {
	Router   *gin.Engine
	EventBus *event.Bus

	Round     Rounds
	Solver    Solvers
	Judge     Judges
	TypeRacer Races
	Board     Boards
	Stats     Stats

	Redis        Redis
	PubsubPrefix string
}

type Rounds interface {
	Start(ctx context.Context, req round.StartRequest) (*round.StartResponse, error)
	Solve(ctx context.Context, req round.SolveRequest) ([]domain.SolverResult, error)
	Submit(ctx context.Context, req round.SubmitRequest) (*round.SubmitResponse, error)
}

type Solvers interface {
	AnswerTrivia(ctx context.Context, question string) []domain.SolverResult
}

type Judges interface {
	GenerateQuestion(ctx context.Context, topic string) (*judge.Question, error)
	Judge(ctx context.Context, req judge.JudgeRequest) *judge.Verdict
}

type Races interface {
	Race(ctx context.Context, word string) ([]domain.SolverResult, error)
	Submit(ctx context.Context, req typeracer.SubmitRequest) (*typeracer.SubmitResponse, error)
}

type Boards interface {
	Get(ctx context.Context, seed string, limit int) ([]domain.LeaderboardEntry, error)
	GetRace(ctx context.Context, limit int) ([]leaderboard.RaceEntry, error)
}

type Stats interface {
	Stats(ctx context.Context) (*history.Stats, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	rs Rounds
	sv Solvers
	js Judges
	tr Races
	bs Boards
	st Stats
	eb *event.Bus

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		rs:     c.Round,
		sv:     c.Solver,
		js:     c.Judge,
		tr:     c.TypeRacer,
		bs:     c.Board,
		st:     c.Stats,
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	g := c.Router.Group("/api")
	g.POST("/start", a.start)
	g.POST("/submit", a.submit)
	g.POST("/solve", a.solve)
	g.POST("/oneword/generate", a.onewordGenerate)
	g.POST("/oneword/solve", a.onewordSolve)
	g.POST("/oneword/judge", a.onewordJudge)
	g.POST("/typeracer/race", a.typeracerRace)
	g.POST("/typeracer/submit", a.typeracerSubmit)
	g.GET("/leaderboard", a.getLeaderboard)
	g.GET("/stats", a.getStats)

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	return a
}

// timeNow is a seam for handler tests that assert on time-derived values.
var timeNow = time.Now

// abort writes the error's status code and its JSON body ({"error": tag}).
func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func (a *API) start(c *gin.Context) {
	// An empty body is valid: daily seed, mixed topic.
	var req struct {
		Seed  string `json:"seed"`
		Topic string `json:"topic"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
			return
		}
	}

	resp, err := a.rs.Start(c.Request.Context(), round.StartRequest{
		Seed:  req.Seed,
		Topic: req.Topic,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) submit(c *gin.Context) {
	var req struct {
		ProblemID     string                `json:"problemId"`
		Token         string                `json:"startToken"`
		UserAnswer    string                `json:"userAnswer"`
		UserHandle    string                `json:"userHandle"`
		CachedResults []domain.SolverResult `json:"cachedResults"`
		AllowExpanded bool                  `json:"allowExpanded"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
		return
	}

	resp, err := a.rs.Submit(c.Request.Context(), round.SubmitRequest{
		ProblemID:     req.ProblemID,
		Token:         req.Token,
		UserAnswer:    req.UserAnswer,
		DesiredHandle: req.UserHandle,
		CachedResults: req.CachedResults,
		AllowExpanded: req.AllowExpanded,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) solve(c *gin.Context) {
	var req struct {
		ProblemID     string `json:"problemId"`
		Token         string `json:"startToken"`
		AllowExpanded bool   `json:"allowExpanded"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
		return
	}

	results, err := a.rs.Solve(c.Request.Context(), round.SolveRequest{
		ProblemID:     req.ProblemID,
		Token:         req.Token,
		AllowExpanded: req.AllowExpanded,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (a *API) onewordGenerate(c *gin.Context) {
	var req struct {
		Topic string `json:"topic"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
			return
		}
	}

	q, err := a.js.GenerateQuestion(c.Request.Context(), req.Topic)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, q)
}

func (a *API) onewordSolve(c *gin.Context) {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params"))
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": a.sv.AnswerTrivia(c.Request.Context(), req.Question)})
}

func (a *API) onewordJudge(c *gin.Context) {
	var req struct {
		Question       string           `json:"question"`
		ExpectedAnswer string           `json:"expectedAnswer"`
		UserAnswer     string           `json:"userAnswer"`
		UserHandle     string           `json:"userHandle"`
		UserTimeMs     int64            `json:"userTimeMs"`
		AIAnswers      []judge.AIAnswer `json:"aiAnswers"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Question == "" || req.ExpectedAnswer == "" {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params"))
		return
	}

	v := a.js.Judge(c.Request.Context(), judge.JudgeRequest{
		Question:   req.Question,
		Expected:   req.ExpectedAnswer,
		UserAnswer: req.UserAnswer,
		UserTimeMs: req.UserTimeMs,
		AIAnswers:  req.AIAnswers,
	})

	a.eb.Publish(c.Request.Context(), domain.EventRoundFinished{
		Entry: domain.HistoryEntry{
			UserHandle: round.SanitizeHandle(req.UserHandle),
			GameType:   domain.GameTypeOneWord,
			ScoreValue: req.UserTimeMs,
			CreateTime: timeNow(),
		},
	})

	c.JSON(http.StatusOK, v)
}

func (a *API) typeracerRace(c *gin.Context) {
	var req struct {
		Word string `json:"word"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
		return
	}

	results, err := a.tr.Race(c.Request.Context(), req.Word)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (a *API) typeracerSubmit(c *gin.Context) {
	var req struct {
		UserHandle string                `json:"userHandle"`
		Word       string                `json:"word"`
		UserTimeMs int64                 `json:"userTimeMs"`
		AIResults  []domain.SolverResult `json:"aiResults"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument, "missing_params", errors.WithCause(err)))
		return
	}

	resp, err := a.tr.Submit(c.Request.Context(), typeracer.SubmitRequest{
		UserHandle: req.UserHandle,
		Word:       req.Word,
		UserTimeMs: req.UserTimeMs,
		AIResults:  req.AIResults,
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) getLeaderboard(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	if c.Query("game") == string(domain.GameTypeTypeRacer) {
		entries, err := a.bs.GetRace(c.Request.Context(), limit)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
		return
	}

	seed := c.Query("seed")
	if seed == "" {
		seed = round.DailySeed(timeNow())
	}

	entries, err := a.bs.Get(c.Request.Context(), seed, limit)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"seed": seed, "entries": entries})
}

func (a *API) getStats(c *gin.Context) {
	stats, err := a.st.Stats(c.Request.Context())
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
