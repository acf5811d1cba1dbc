// Package generator turns a keyword into a structured SEO article using a
// text provider.
package generator

import (
	"autopublisher/internal/apperr"
	"autopublisher/internal/models"
	"autopublisher/internal/provider"
	"autopublisher/internal/text"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"go.uber.org/zap"
)

const (
	MaxTitleLength = 60
	MaxMetaLength  = 160

	defaultAuthor    = "AI Writer"
	defaultPublisher = "My Site"
	defaultSection   = "General"
	schemaArticle    = "Article"
	defaultMinWords  = 800
	defaultMaxWords  = 1200
)

var errEmptyBody = errors.New("response has no article body")

type Options struct {
	ContentType   string
	Tone          string
	Language      string
	WordCountMin  int
	WordCountMax  int
	AuxKeywords   []string
	AuthorName    string
	PublisherName string
	Section       string
}

type Article struct {
	Title           string
	Body            string
	MetaTitle       string
	MetaDescription string
	Excerpt         string
	AuthorName      string
	PublisherName   string
	SchemaType      string
	ArticleSection  string
	Provider        provider.Name
	Warnings        []string
}

type Generator struct {
	timeout time.Duration
	log     *zap.Logger
	policy  *bluemonday.Policy
	md      goldmark.Markdown
}

func New(timeout time.Duration, logger *zap.Logger) *Generator {
	return &Generator{
		timeout: timeout,
		log:     logger,
		policy:  bluemonday.UGCPolicy(),
		md:      goldmark.New(),
	}
}

// Generate calls p once and parses its answer. Provider failures come back
// classified; an empty answer is a permanent failure.
func (g *Generator) Generate(ctx context.Context, p provider.TextProvider, kw *models.Keyword, opts Options) (*Article, error) {
	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	req := provider.TextRequest{
		System:      systemPrompt,
		Prompt:      BuildPrompt(kw, opts),
		MaxTokens:   maxTokens(opts),
		Temperature: 0.7,
	}
	raw, err := p.Generate(callCtx, req)
	if err != nil {
		return nil, provider.Classify(p.Name(), err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, apperr.New(apperr.ProviderPermanent, string(p.Name()), "empty response")
	}

	article, err := g.Parse(raw, kw, opts)
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderPermanent, string(p.Name()), err)
	}
	article.Provider = p.Name()
	if len(article.Warnings) > 0 {
		g.log.Warn("generated article needed repair",
			zap.String("provider", string(p.Name())),
			zap.String("keyword_id", kw.KeywordID),
			zap.Strings("warnings", article.Warnings),
		)
	}
	return article, nil
}

const systemPrompt = "You are an expert SEO copywriter who writes well structured, original articles in semantic HTML."

func BuildPrompt(kw *models.Keyword, opts Options) string {
	minWords, maxWords := wordBand(opts)
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "article"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Write a professional, SEO optimized %s about the keyword: %q\n\n", contentType, kw.Phrase)
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "1. An engaging title of at most %d characters\n", MaxTitleLength)
	fmt.Fprintf(&b, "2. Between %d and %d words of well structured content\n", minWords, maxWords)
	b.WriteString("3. Use the keyword naturally with a density of 1-2%\n")
	fmt.Fprintf(&b, "4. A persuasive meta description of at most %d characters\n", MaxMetaLength)
	b.WriteString("5. 3-5 main sections with <h2>, subsections with <h3> where useful\n")
	b.WriteString("6. Every paragraph in <p>, lists in <ul>/<ol>, at least one <blockquote>\n")
	b.WriteString("7. An introduction that hooks the reader and a conclusion with a call to action\n")
	if opts.Tone != "" {
		fmt.Fprintf(&b, "\nTone: %s\n", opts.Tone)
	}
	if opts.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", opts.Language)
	}
	if len(opts.AuxKeywords) > 0 {
		fmt.Fprintf(&b, "Related keywords to cover as context: %s\n", strings.Join(opts.AuxKeywords, ", "))
	}
	if kw.Notes != "" {
		fmt.Fprintf(&b, "Additional notes: %s\n", kw.Notes)
	}
	b.WriteString("\nRespond with EXACTLY this format:\n")
	b.WriteString("[TITLE]\nTitle here\n\n[META_DESCRIPTION]\nMeta description here\n\n[CONTENT]\nFull content here using semantic HTML tags\n")
	return b.String()
}

func wordBand(opts Options) (int, int) {
	minWords, maxWords := opts.WordCountMin, opts.WordCountMax
	if minWords <= 0 {
		minWords = defaultMinWords
	}
	if maxWords < minWords {
		maxWords = max(minWords, defaultMaxWords)
	}
	return minWords, maxWords
}

// maxTokens leaves room for markup on top of the requested word band.
func maxTokens(opts Options) int {
	_, maxWords := wordBand(opts)
	return min(maxWords*3, 8000)
}

// Parse extracts the labelled sections of a provider answer and renders the
// body into sanitized semantic HTML. Recoverable problems are reported as
// warnings on the article; a response without any body is an error.
func (g *Generator) Parse(raw string, kw *models.Keyword, opts Options) (*Article, error) {
	sec := splitSections(raw)
	a := &Article{
		AuthorName:     orDefault(opts.AuthorName, defaultAuthor),
		PublisherName:  orDefault(opts.PublisherName, defaultPublisher),
		SchemaType:     schemaArticle,
		ArticleSection: orDefault(opts.Section, defaultSection),
	}

	body := sec.content
	if !sec.labelled {
		a.Warnings = append(a.Warnings, "response labels missing, extracted heuristically")
		sec.title, body = heuristicSplit(raw)
	}

	if text.PlainText(body) == "" {
		return nil, errEmptyBody
	}

	a.Title = cleanTitle(sec.title)
	if a.Title == "" {
		a.Title = titleFromPhrase(kw.Phrase)
		a.Warnings = append(a.Warnings, "title missing, synthesized from keyword")
	}
	a.Title = text.Truncate(a.Title, MaxTitleLength)
	a.MetaTitle = a.Title

	a.Body = g.ensureStructure(g.policy.Sanitize(g.renderBody(body)), a.Title, kw.Phrase)

	a.MetaDescription = strings.TrimSpace(sec.meta)
	if a.MetaDescription == "" {
		a.MetaDescription = text.Excerpt(a.Body, MaxMetaLength)
	}
	a.MetaDescription = text.Truncate(a.MetaDescription, MaxMetaLength)
	a.Excerpt = text.Excerpt(a.Body, text.ExcerptLength)
	return a, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
