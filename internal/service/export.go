package service

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"askboard/internal/config"
	"askboard/internal/model"
	"askboard/internal/platform"
	"askboard/internal/repository"
)

const (
	exportThumbWidth  = 320
	exportThumbHeight = 240
)

// ExportService renders a question thread as a standalone HTML page and
// uploads it to Cloudflare R2, returning a shareable URL. Photo
// attachments are downloaded from the platform and thumbnailed alongside.
type ExportService struct {
	s3Client  *s3.Client
	bucket    string
	publicURL string
	fetcher   platform.FileFetcher
	posts     repository.PostRepository
	users     repository.UserRepository
}

// NewExportService constructs an S3-compatible client for Cloudflare R2.
func NewExportService(ctx context.Context, cfg *config.Config, fetcher platform.FileFetcher, posts repository.PostRepository, users repository.UserRepository) (*ExportService, error) {
	if cfg.R2AccountID == "" || cfg.R2AccessKeyID == "" || cfg.R2SecretAccessKey == "" || cfg.R2BucketName == "" || cfg.R2PublicURL == "" {
		return nil, fmt.Errorf("missing Cloudflare R2 configuration")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for R2: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &ExportService{
		s3Client:  s3Client,
		bucket:    cfg.R2BucketName,
		publicURL: strings.TrimSuffix(cfg.R2PublicURL, "/"),
		fetcher:   fetcher,
		posts:     posts,
		users:     users,
	}, nil
}

// ExportThread uploads the post and, for questions, its answers and
// comments as one HTML page. Returns the public URL.
func (s *ExportService) ExportThread(ctx context.Context, postID string) (string, error) {
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return "", err
	}

	var page bytes.Buffer
	page.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">")
	fmt.Fprintf(&page, "<title>%s</title>", html.EscapeString(model.StripTags(firstLine(post.RawText))))
	page.WriteString(exportStyle)
	page.WriteString("</head><body>\n")

	if err := s.writeCard(ctx, &page, post, "card question"); err != nil {
		return "", err
	}

	if post.Type == model.TypeQuestion {
		answers, err := s.posts.Replies(ctx, post.ID, model.TypeAnswer)
		if err != nil {
			return "", err
		}
		for i := range answers {
			class := "card answer"
			if post.AcceptedAnswerID != nil && *post.AcceptedAnswerID == answers[i].ID {
				class = "card answer accepted"
			}
			if err := s.writeCard(ctx, &page, &answers[i], class); err != nil {
				return "", err
			}
		}
		comments, err := s.posts.Replies(ctx, post.ID, model.TypeComment)
		if err != nil {
			return "", err
		}
		for i := range comments {
			if err := s.writeCard(ctx, &page, &comments[i], "card comment"); err != nil {
				return "", err
			}
		}
	}

	page.WriteString("</body></html>\n")

	key := fmt.Sprintf("exports/%s.html", post.ID)
	if err := s.putObject(ctx, key, page.Bytes(), "text/html; charset=utf-8"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.publicURL, key), nil
}

func (s *ExportService) writeCard(ctx context.Context, page *bytes.Buffer, p *model.Post, class string) error {
	author := "Anonymous"
	if owner, err := s.users.GetByChatID(ctx, p.OwnerChatID); err == nil {
		author = owner.DisplayIdentity()
	}

	fmt.Fprintf(page, "<div class=%q>\n", class)
	fmt.Fprintf(page, "<div class=\"meta\">%s · %s · %s</div>\n",
		html.EscapeString(author), p.CreatedAt.Format("02 Jan 2006 15:04"), p.Status)
	fmt.Fprintf(page, "<div class=\"body\">%s</div>\n", p.Text())

	for _, frag := range p.Attachments() {
		if frag.Kind != model.KindPhoto {
			fmt.Fprintf(page, "<div class=\"attachment\">📎 %s</div>\n", html.EscapeString(frag.DisplayName()))
			continue
		}
		thumbURL, err := s.uploadThumbnail(ctx, p.ID, frag.FileID)
		if err != nil {
			// The export is still useful without the image.
			log.Printf("[Export] Thumbnail for %s failed: %v", frag.FileID, err)
			fmt.Fprintf(page, "<div class=\"attachment\">🖼 %s</div>\n", html.EscapeString(frag.DisplayName()))
			continue
		}
		fmt.Fprintf(page, "<img class=\"thumb\" src=%q alt=%q>\n", thumbURL, html.EscapeString(frag.DisplayName()))
	}

	fmt.Fprintf(page, "<div class=\"counts\">❤️ %d</div>\n</div>\n", len(p.Likes))
	return nil
}

// uploadThumbnail downloads the platform file, fits it into the thumbnail
// box and uploads it as JPEG next to the page.
func (s *ExportService) uploadThumbnail(ctx context.Context, postID, fileID string) (string, error) {
	data, err := s.fetcher.FetchFile(ctx, fileID)
	if err != nil {
		return "", err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	thumb := imaging.Fit(img, exportThumbWidth, exportThumbHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}

	key := fmt.Sprintf("exports/%s/%s.jpg", postID, fileID)
	if err := s.putObject(ctx, key, buf.Bytes(), "image/jpeg"); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", s.publicURL, key), nil
}

func (s *ExportService) putObject(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to r2: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80]
	}
	return s
}

const exportStyle = `<style>
body { font-family: sans-serif; max-width: 720px; margin: 2rem auto; color: #222; }
.card { border: 1px solid #ddd; border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
.card.answer { margin-left: 2rem; }
.card.answer.accepted { border-color: #2e7d32; background: #f1f8e9; }
.card.comment { margin-left: 4rem; font-size: 0.9em; }
.meta { color: #777; font-size: 0.85em; margin-bottom: 0.5rem; }
.counts { color: #999; font-size: 0.85em; margin-top: 0.5rem; }
.thumb { display: block; margin-top: 0.5rem; border-radius: 4px; }
.attachment { color: #555; margin-top: 0.5rem; }
</style>`
