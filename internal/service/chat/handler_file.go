package chat

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"talkroom_server/internal/cache"
	"talkroom_server/internal/dao/mysql/repository"
	"talkroom_server/internal/model"
	"talkroom_server/internal/storage"
	"talkroom_server/pkg/errorx"

	"go.uber.org/zap"
)

// fileHandler persists an attachment frame store-first: the history row
// and media rows commit before the cache entry appears, so the dirty
// mirror is born with a bound id. Bodies upload in parallel; any failed
// body rolls the whole frame back and nothing reaches the cache or the
// room channel.
type fileHandler struct{}

func newFileHandler() Handler { return fileHandler{} }

func (fileHandler) Handle(ctx context.Context, hctx *HandlerContext, data json.RawMessage) (*Outcome, error) {
	var form FileData
	if err := json.Unmarshal(data, &form); err != nil {
		return nil, errorx.Wrap(err, errorx.CodeInvalidJSONFormat, "decode file data")
	}
	if len(form.Files) == 0 {
		return nil, errorx.Newf(errorx.CodeInvalid, "file frame without files")
	}

	type staged struct {
		upload FileUpload
		uid    string
		obj    storage.Object
	}
	stagedFiles := make([]staged, 0, len(form.Files))
	objects := make([]storage.Object, 0, len(form.Files))
	for _, f := range form.Files {
		body, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			return nil, errorx.Wrapf(err, errorx.CodeInvalid, "decode file body %s", f.Filename)
		}
		uid := NewRedisID()
		obj := storage.Object{
			Bucket:   hctx.Store.Bucket(),
			Filepath: fmt.Sprintf("chat/%d/%s_%s", hctx.RoomID, uid, f.Filename),
			Data:     body,
		}
		stagedFiles = append(stagedFiles, staged{upload: f, uid: uid, obj: obj})
		objects = append(objects, obj)
	}

	now := time.Now()
	var contents *string
	if form.Contents != "" {
		c := form.Contents
		contents = &c
	}
	history := model.ChatHistory{
		RedisID:       NewRedisID(),
		RoomID:        uint(hctx.RoomID),
		UserProfileID: uint(hctx.ProfileID),
		Contents:      contents,
		Type:          model.HistoryTypeFile,
		IsActive:      true,
	}
	readers := readersOf(hctx.Room, hctx.ProfileID)

	var refs []cache.HistoryFile
	var uploadErr error
	err := hctx.Repos.WithTransaction(func(r *repository.Repositories) error {
		if err := r.History.Create(&history); err != nil {
			return err
		}
		uploaded := hctx.Store.UploadAll(ctx, objects)
		for i := range uploaded {
			if uploaded[i] == nil {
				uploadErr = errorx.Newf(errorx.CodeInternalServerError,
					"attachment upload failed for %s", stagedFiles[i].upload.Filename)
				return uploadErr
			}
		}
		order := 0
		for _, s := range stagedFiles {
			order++
			media := model.S3Media{
				Uid:         s.uid,
				Bucket:      s.obj.Bucket,
				Filename:    s.upload.Filename,
				Filepath:    s.obj.Filepath,
				ContentType: s.upload.ContentType,
				UploadedBy:  uint(hctx.ProfileID),
				IsActive:    true,
			}
			if err := r.Media.CreateMedia(&media); err != nil {
				return err
			}
			if err := r.History.CreateFiles([]model.ChatHistoryFile{{
				Uid:           s.uid,
				ChatHistoryID: history.ID,
				Order:         order,
			}}); err != nil {
				return err
			}
			refs = append(refs, cache.HistoryFile{
				Uid:         s.uid,
				Filename:    s.upload.Filename,
				ContentType: s.upload.ContentType,
				Bucket:      s.obj.Bucket,
				Filepath:    s.obj.Filepath,
				Order:       order,
			})
		}
		markers := make([]model.ChatHistoryUserAssociation, 0, len(readers))
		for _, pid := range readers {
			markers = append(markers, model.ChatHistoryUserAssociation{
				HistoryID:     history.ID,
				UserProfileID: uint(pid),
				IsRead:        true,
			})
		}
		return r.History.BulkCreateReadMarkers(markers)
	})
	if err != nil {
		if uploadErr != nil {
			// The row rolled back with the upload; drop the frame.
			zap.L().Error("file frame dropped",
				zap.Int64("room_id", hctx.RoomID),
				zap.Int64("profile_id", hctx.ProfileID),
				zap.Error(uploadErr))
			return &Outcome{}, nil
		}
		return nil, err
	}

	id := int64(history.ID)
	entry := cache.HistoryEntry{
		ID:            &id,
		RedisID:       history.RedisID,
		UserProfileID: hctx.ProfileID,
		Contents:      contents,
		Type:          TypeFile,
		Files:         refs,
		ReadUserIDs:   readers,
		Timestamp:     cache.UnixSeconds(now),
		Date:          entryDate(now),
		IsActive:      true,
	}
	if err := storeEntry(ctx, hctx, entry); err != nil {
		return nil, err
	}
	bumpRoomIndexes(ctx, hctx, entry.Timestamp)

	signed := hctx.Coord.SignHistories([]cache.HistoryEntry{entry})
	return &Outcome{
		Multicast: []SendForm{{Type: TypeFile, Data: MessageReply{History: signed[0]}}},
	}, nil
}
