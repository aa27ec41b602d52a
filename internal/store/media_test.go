package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaAssetLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	soundID, err := s.CreateMediaAsset(ctx, MediaSound, "chime", "a1b2.wav")
	require.NoError(t, err)
	_, err = s.CreateMediaAsset(ctx, MediaImage, "logo", "c3d4.png")
	require.NoError(t, err)

	sounds, err := s.ListMediaAssets(ctx, MediaSound)
	require.NoError(t, err)
	require.Len(t, sounds, 1)
	assert.Equal(t, "chime", sounds[0].Name)

	filename, err := s.DeleteMediaAsset(ctx, soundID)
	require.NoError(t, err)
	assert.Equal(t, "a1b2.wav", filename)

	sounds, err = s.ListMediaAssets(ctx, MediaSound)
	require.NoError(t, err)
	assert.Empty(t, sounds)

	images, err := s.ListMediaAssets(ctx, MediaImage)
	require.NoError(t, err)
	assert.Len(t, images, 1)
}

func TestCreateMediaAssetRejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateMediaAsset(context.Background(), "video", "clip", "x.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid media kind")
}
