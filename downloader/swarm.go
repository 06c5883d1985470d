package downloader

import (
	"fmt"
	"log"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/storage"
)

// AnacrolixSwarm is the BitTorrent client behind Swarm. One instance serves the whole process.
type AnacrolixSwarm struct {
	client  *torrent.Client
	dataDir string
}

// NewAnacrolixSwarm starts a client that stores payloads under dataDir and does not seed.
// Piece completion is kept in memory so dataDir holds nothing but payloads and can be purged.
func NewAnacrolixSwarm(dataDir string) (*AnacrolixSwarm, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.Seed = false
	cfg.DefaultStorage = storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   dataDir,
		PieceCompletion: storage.NewMapPieceCompletion(),
	})

	c, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start torrent client: %w", err)
	}
	return &AnacrolixSwarm{client: c, dataDir: dataDir}, nil
}

func (s *AnacrolixSwarm) AddMagnet(uri string) (Transfer, error) {
	t, err := s.client.AddMagnet(uri)
	if err != nil {
		return nil, err
	}
	return &anacrolixTransfer{t: t}, nil
}

func (s *AnacrolixSwarm) DataDir() string { return s.dataDir }

// Close shuts the client down.
func (s *AnacrolixSwarm) Close() {
	for _, err := range s.client.Close() {
		log.Printf("Torrent client close: %v", err)
	}
}

type anacrolixTransfer struct {
	t *torrent.Torrent
}

func (a *anacrolixTransfer) GotInfo() <-chan struct{} { return a.t.GotInfo() }
func (a *anacrolixTransfer) Name() string             { return a.t.Name() }
func (a *anacrolixTransfer) Peers() int               { return a.t.Stats().ActivePeers }
func (a *anacrolixTransfer) Drop()                    { a.t.Drop() }

func (a *anacrolixTransfer) Files() []FileInfo {
	files := a.t.Files()
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, FileInfo{Path: f.Path(), Length: f.Length()})
	}
	return out
}

func (a *anacrolixTransfer) file(path string) *torrent.File {
	for _, f := range a.t.Files() {
		if f.Path() == path {
			return f
		}
	}
	return nil
}

func (a *anacrolixTransfer) Download(path string) {
	if f := a.file(path); path != "" && f != nil {
		f.Download()
		return
	}
	a.t.DownloadAll()
}

func (a *anacrolixTransfer) Completed(path string) int64 {
	if f := a.file(path); path != "" && f != nil {
		return f.BytesCompleted()
	}
	return a.t.BytesCompleted()
}

func (a *anacrolixTransfer) BytesRead() int64 {
	st := a.t.Stats()
	return st.BytesReadData.Int64()
}
