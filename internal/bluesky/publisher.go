package bluesky

import (
	"context"
	"time"

	"github.com/blackmichael/nostr-crosspost/internal/media"
	"github.com/rs/zerolog"
)

const imageAltText = "Image from Nostr"

// Result describes a successful crosspost.
type Result struct {
	URI      string
	CID      string
	Attached int
}

// Publisher turns note text and fetched images into a Bluesky post.
type Publisher struct {
	client *Client
	log    zerolog.Logger
}

// NewPublisher creates a Publisher on top of an authenticated client.
func NewPublisher(client *Client, log zerolog.Logger) *Publisher {
	return &Publisher{client: client, log: log}
}

// Publish uploads the attachments and creates the post record. An upload
// failure degrades the post instead of failing it: the image is dropped and
// its URL stays in the text. Only URLs that made it into the embed are
// stripped from the text.
func (p *Publisher) Publish(ctx context.Context, text string, attachments []media.Attachment) (*Result, error) {
	var images []EmbedImage
	var uploaded []string

	for _, att := range attachments {
		blob, err := p.client.UploadBlob(ctx, att.Data, att.ContentType)
		if err != nil {
			p.log.Warn().Err(err).Str("url", att.URL).Msg("blob upload failed, dropping attachment")
			continue
		}

		img := EmbedImage{Alt: imageAltText, Image: blob}
		if att.Width > 0 && att.Height > 0 {
			img.AspectRatio = &AspectRatio{Width: att.Width, Height: att.Height}
		}
		images = append(images, img)
		uploaded = append(uploaded, att.URL)
	}

	if len(uploaded) > 0 {
		text = media.StripURLs(text, uploaded)
		p.log.Debug().Int("stripped", len(uploaded)).Msg("removed attached image urls from text")
	}

	record := PostRecord{
		Text:      text,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if len(images) > 0 {
		record.Embed = &ImagesEmbed{Type: embedImagesType, Images: images}
	}

	uri, cid, err := p.client.CreatePost(ctx, record)
	if err != nil {
		return nil, err
	}

	return &Result{URI: uri, CID: cid, Attached: len(images)}, nil
}
