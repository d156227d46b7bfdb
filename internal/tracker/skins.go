package tracker

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/png"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcadmin/mc-admin/internal/events"
	"github.com/mcadmin/mc-admin/internal/repository"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// faceRegion is the 8x8 head front in the standard 64x64 skin layout
var faceRegion = image.Rect(8, 8, 16, 16)

// SkinService fetches skin textures for a UUID
type SkinService interface {
	SkinURL(uuid string) (string, error)
	DownloadSkin(url string) ([]byte, error)
}

// SkinUpdater fetches and stores skin and avatar PNGs on request.
// Requests are rate limited to stay under the profile service's
// ceiling; transient failures log and drop, the next join retries.
type SkinUpdater struct {
	players    *repository.PlayerRepository
	skins      SkinService
	dispatcher *events.Dispatcher
	limiter    *rate.Limiter

	// Skins fetched more recently than this are not refetched
	minInterval time.Duration
}

func NewSkinUpdater(players *repository.PlayerRepository, skins SkinService, dispatcher *events.Dispatcher, fetchDelay time.Duration) *SkinUpdater {
	if fetchDelay <= 0 {
		fetchDelay = time.Second
	}
	return &SkinUpdater{
		players:     players,
		skins:       skins,
		dispatcher:  dispatcher,
		limiter:     rate.NewLimiter(rate.Every(fetchDelay), 1),
		minInterval: time.Hour,
	}
}

// Register subscribes the updater's handler on the dispatcher
func (u *SkinUpdater) Register() {
	u.dispatcher.OnPlayerSkinUpdateRequested("skins", u.onSkinUpdateRequested)
}

func (u *SkinUpdater) onSkinUpdateRequested(ctx context.Context, e events.PlayerSkinUpdateRequested) error {
	player, err := u.players.FindByID(e.PlayerID)
	if err != nil {
		return err
	}
	if player.LastSkinUpdate != nil && time.Since(*player.LastSkinUpdate) < u.minInterval {
		return nil
	}

	if err := u.limiter.Wait(ctx); err != nil {
		return nil
	}

	if err := u.fetch(e.PlayerID, e.UUID); err != nil {
		logger.Warn("skin update failed, will retry on next join", map[string]interface{}{
			"player": e.PlayerName,
			"uuid":   e.UUID,
			"reason": err.Error(),
		})
	}
	return nil
}

func (u *SkinUpdater) fetch(playerID uint, uuid string) error {
	url, err := u.skins.SkinURL(uuid)
	if err != nil {
		return err
	}

	skin, err := u.skins.DownloadSkin(url)
	if err != nil {
		return err
	}

	avatar, err := CropFace(skin)
	if err != nil {
		return err
	}

	return u.players.SaveSkin(playerID, skin, avatar, time.Now())
}

// CropFace extracts the 8x8 face region from a skin PNG and re-encodes
// it as the avatar PNG.
func CropFace(skinPNG []byte) ([]byte, error) {
	skin, err := png.Decode(bytes.NewReader(skinPNG))
	if err != nil {
		return nil, errs.External(err, "skin is not a decodable PNG")
	}
	if !faceRegion.In(skin.Bounds()) {
		return nil, errs.External(nil, "skin too small for face crop: %v", skin.Bounds())
	}

	face := image.NewNRGBA(image.Rect(0, 0, faceRegion.Dx(), faceRegion.Dy()))
	draw.Draw(face, face.Bounds(), skin, faceRegion.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, face); err != nil {
		return nil, errs.Internal(err, "failed to encode avatar PNG")
	}
	return buf.Bytes(), nil
}
