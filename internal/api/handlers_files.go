package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	kerrors "kurpod/internal/errors"
	"kurpod/internal/registry"
	"kurpod/internal/volume"
)

type fileEntryResponse struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Mime     string `json:"mime,omitempty"`
	Created  string `json:"created"`
	Modified string `json:"modified"`
}

func toFileEntryResponse(fi volume.FileInfo) fileEntryResponse {
	return fileEntryResponse{
		Path:     fi.Path,
		Size:     fi.Size,
		Mime:     fi.Mime,
		Created:  fi.Created.UTC().Format(timeFormat),
		Modified: fi.Modified.UTC().Format(timeFormat),
	}
}

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

func handleListFiles(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)

		files, err := registry.WithRead(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) ([]fileEntryResponse, error) {
			list := v.List()
			out := make([]fileEntryResponse, len(list))
			for i, fi := range list {
				out[i] = toFileEntryResponse(fi)
			}
			return out, nil
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, files)
	}
}

// handleUploadFiles accepts `file`/`files` multipart fields alongside
// `file_path`/`file_paths`, optionally prefixed by the `current_folder`
// query parameter, per the external interface's upload contract.
func handleUploadFiles(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)
		folder := c.Query("current_folder")

		form, err := c.MultipartForm()
		if err != nil {
			fail(c, kerrors.NewValidationError("body", "expected multipart form"))
			return
		}

		headers := form.File["files"]
		if len(headers) == 0 {
			headers = form.File["file"]
		}
		virtualPaths := form.Value["file_paths"]
		if len(virtualPaths) == 0 {
			virtualPaths = form.Value["file_path"]
		}
		if len(headers) == 0 {
			fail(c, kerrors.NewValidationError("file", "no files provided"))
			return
		}

		uploaded, err := registry.WithWrite(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) ([]string, error) {
			var names []string
			for i, fh := range headers {
				virtualPath := fh.Filename
				if i < len(virtualPaths) && virtualPaths[i] != "" {
					virtualPath = virtualPaths[i]
				}
				if folder != "" {
					virtualPath = path.Join(folder, virtualPath)
				}

				src, err := fh.Open()
				if err != nil {
					return nil, kerrors.NewFileError("open", fh.Filename, err)
				}
				req := volume.NewWriteRequestBuilder(virtualPath, src).
					WithMime(fh.Header.Get("Content-Type")).
					WithSizeHint(fh.Size).
					Build()
				err = v.Write(req)
				src.Close()
				if err != nil {
					return nil, err
				}
				names = append(names, virtualPath)
			}
			return names, nil
		})
		if err != nil {
			fail(c, err)
			return
		}
		okStatus(c, http.StatusCreated, gin.H{"uploaded": uploaded})
	}
}

// handleBatchUpload streams a single part's body directly into the
// volume, for large-file clients that split one logical upload across
// several requests sharing a batch_id. The body is written as one file
// at current_folder/batch_id, with no per-part suffix, so a later
// request carrying the same batch_id replaces the earlier file entry;
// parts are not concatenated. is_final_batch is only echoed back in the
// response and does not change server-side behavior, since every
// request commits its own metadata record.
func handleBatchUpload(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)

		batchID := c.Query("batch_id")
		if batchID == "" {
			fail(c, kerrors.NewValidationError("batch_id", "required"))
			return
		}
		folder := c.Query("current_folder")
		isFinal := c.Query("is_final_batch") == "true"

		virtualPath := path.Join(folder, batchID)

		req := volume.NewWriteRequestBuilder(virtualPath, c.Request.Body).
			WithMime(c.ContentType()).
			WithSizeHint(c.Request.ContentLength).
			Build()
		_, err := registry.WithWrite(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) (struct{}, error) {
			return struct{}{}, v.Write(req)
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, gin.H{"batch_id": batchID, "is_final_batch": isFinal})
	}
}

// handleDownloadFile serves a file's plaintext, honoring an optional
// byte-range request per RFC 7233.
func handleDownloadFile(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)
		filePath := strings.TrimPrefix(c.Param("path"), "/")

		type result struct {
			reader    io.ReadCloser
			size      int64
			mime      string
			low, high int64
			partial   bool
		}

		rangeHeader := c.GetHeader("Range")

		res, err := registry.WithRead(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) (result, error) {
			var info *volume.FileInfo
			for _, fi := range v.List() {
				if fi.Path == filePath {
					f := fi
					info = &f
					break
				}
			}
			if info == nil {
				return result{}, kerrors.ErrNotFound
			}

			rng, partial, err := parseRange(rangeHeader, info.Size)
			if err != nil {
				return result{}, err
			}

			var byteRange *volume.ByteRange
			if partial {
				byteRange = &rng
			}
			r, err := v.Open(filePath, byteRange)
			if err != nil {
				return result{}, err
			}

			low, high := int64(0), info.Size
			if partial {
				low, high = rng.Low, rng.High
			}
			return result{reader: r, size: info.Size, mime: info.Mime, low: low, high: high, partial: partial}, nil
		})
		if err != nil {
			fail(c, err)
			return
		}
		defer res.reader.Close()

		c.Header("Accept-Ranges", "bytes")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(filePath)))

		if res.partial {
			c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", res.low, res.high-1, res.size))
			c.Status(http.StatusPartialContent)
		} else {
			c.Status(http.StatusOK)
		}
		c.Header("Content-Length", strconv.FormatInt(res.high-res.low, 10))
		mime := res.mime
		if mime == "" {
			mime = "application/octet-stream"
		}
		c.Header("Content-Type", mime)

		io.Copy(c.Writer, res.reader)
	}
}

func handleDeleteFile(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, blobName, clientIP, userAgent := sessionContext(c)
		filePath := strings.TrimPrefix(c.Param("path"), "/")

		_, err := registry.WithWrite(reg, blobName, token, clientIP, userAgent, func(v *volume.UnlockedVolume) (struct{}, error) {
			return struct{}{}, v.Remove(filePath)
		})
		if err != nil {
			fail(c, err)
			return
		}
		ok(c, nil)
	}
}

// parseRange parses a `Range: bytes=lo-hi` header against a resource
// of the given size. A missing or malformed header is treated as "no
// range requested", never as an error.
func parseRange(header string, size int64) (volume.ByteRange, bool, error) {
	if header == "" {
		return volume.ByteRange{}, false, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return volume.ByteRange{}, false, nil
	}
	spec := strings.TrimPrefix(header, prefix)
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return volume.ByteRange{}, false, nil
	}

	var low, high int64
	var err error

	if parts[0] == "" {
		// Suffix range: bytes=-N means the last N bytes.
		n, perr := strconv.ParseInt(parts[1], 10, 64)
		if perr != nil {
			return volume.ByteRange{}, false, nil
		}
		low = size - n
		if low < 0 {
			low = 0
		}
		high = size
	} else {
		low, err = strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return volume.ByteRange{}, false, nil
		}
		if parts[1] == "" {
			high = size
		} else {
			high, err = strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return volume.ByteRange{}, false, nil
			}
			high++ // header is inclusive, ByteRange.High is exclusive
		}
	}

	if low < 0 || high > size || low >= high {
		return volume.ByteRange{}, false, kerrors.ErrRangeNotSatisfiable
	}
	return volume.ByteRange{Low: low, High: high}, true, nil
}
