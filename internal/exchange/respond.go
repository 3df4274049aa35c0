package exchange

import (
	"errors"
	"fmt"
	"html"
	"io"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
)

// Redirect sets status (default 301, must be in [300,399]) and a tiny
// self-contained HTML body linking to location. location is parsed as a URL
// so non-ASCII authority/path bytes are escaped; the body's link text is
// the HTML-escaped display form of the original location.
func (ex *Exchange) Redirect(location string, status int) {
	ex.mu.Lock()
	if ex.stage != StageReady {
		ex.mu.Unlock()
		return
	}
	if status == 0 {
		status = 301
	}
	if status < 300 || status > 399 {
		panic("exchange: Redirect status must be in [300,399]")
	}
	ex.response.Status = status
	ex.mu.Unlock()

	target := location
	if u, err := url.Parse(location); err == nil {
		target = u.String()
	}
	ex.response.Headers.set("location", target)

	escaped := html.EscapeString(location)
	body := fmt.Sprintf(
		`<!DOCTYPE html><html><head><title>Redirecting</title></head><body>Redirecting to <a href="%s">%s</a>.</body></html>`,
		html.EscapeString(target), escaped)
	ex.Prepare(body)
	ex.Respond()
}

// Fail responds with status (when status is 0: the status of err's Kind, or
// 500 for a nil or Kind-less error) and either an
// HTML error page (outside production, when the client's Accept permits
// HTML) or a plaintext "<status> <reason>" body.
func (ex *Exchange) Fail(status int, err error) {
	ex.mu.Lock()
	if ex.stage != StageReady {
		ex.mu.Unlock()
		return
	}
	ex.mu.Unlock()

	resolved := statusFor(status, err)
	ex.response.Status = resolved

	if !ex.production && ex.acceptsHTML() {
		ex.response.Status = resolved
		ex.Prepare(ex.renderErrorPage(resolved, err))
	} else {
		ex.Prepare(fmt.Sprintf("%d %s", resolved, reasonPhrase(resolved)))
	}
	ex.Respond()
}

func (ex *Exchange) acceptsHTML() bool {
	accept := ex.Request.Headers.Get("accept")
	if accept == "" {
		return true // no preference stated; default to the richer page
	}
	return strings.Contains(strings.ToLower(accept), "text/html") || strings.Contains(accept, "*/*")
}

func (ex *Exchange) renderErrorPage(status int, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<!DOCTYPE html><html><head><title>%d %s</title></head><body>",
		status, html.EscapeString(reasonPhrase(status)))
	fmt.Fprintf(&b, "<h1>%d %s</h1>", status, html.EscapeString(reasonPhrase(status)))

	b.WriteString("<table border=\"1\"><tbody>")
	for name, value := range ex.Request.Headers {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>", html.EscapeString(name), html.EscapeString(value))
	}
	fmt.Fprintf(&b, "<tr><td>request-id</td><td>%s</td></tr>", html.EscapeString(ex.ID))
	b.WriteString("</tbody></table>")

	if err != nil {
		fmt.Fprintf(&b, "<pre>Error: %s\n%s</pre>", html.EscapeString(err.Error()), html.EscapeString(string(debug.Stack())))
	}
	b.WriteString("</body></html>")
	return b.String()
}

func reasonPhrase(status int) string {
	if phrase, ok := statusReasons[status]; ok {
		return phrase
	}
	return "Error"
}

var statusReasons = map[int]string{
	200: "OK",
	204: "No Content",
	300: "Multiple Choices",
	301: "Moved Permanently",
	302: "Found",
	304: "Not Modified",
	400: "Bad Request",
	404: "Not Found",
	405: "Method Not Allowed",
	406: "Not Acceptable",
	412: "Precondition Failed",
	418: "I'm a Teapot",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// Respond finalizes the response. If the body is a file reference, it runs
// cool-URL resolution (literal path; path+".html" if that is not found;
// path+"/index.html" if it is a directory) and handles conditional-GET before streaming the
// file. A second call after the first is a no-op.
func (ex *Exchange) Respond() {
	ex.mu.Lock()
	if ex.stage != StageReady {
		ex.mu.Unlock()
		return
	}
	ex.stage = StageResponding
	ex.mu.Unlock()

	if ex.response.BodyKind == BodyFile {
		if ex.respondWithFile() {
			return
		}
	}

	ex.harden()
	ex.writer.WriteHeader(ex.response.Status, ex.response.Headers)
	ex.writeBody()
	ex.Flush()
}

// resolveFile performs cool-URL resolution: the literal path is tried
// first, and the retry is conditional on why it failed rather than tried
// unconditionally in sequence. A not-found path retries path+".html"; a
// path that resolved to a directory retries path+"/index.html". Retrying
// both unconditionally would pick the wrong candidate when, say, both a
// literal file and an ".html" sibling exist.
func (ex *Exchange) resolveFile(path string) (FileInfo, string, bool) {
	fi, err := ex.fileOpener.Stat(path)
	if err == nil {
		if !fi.IsDir {
			return fi, path, true
		}
		indexPath := strings.TrimSuffix(path, "/") + "/index.html"
		if fi2, err2 := ex.fileOpener.Stat(indexPath); err2 == nil && !fi2.IsDir {
			return fi2, indexPath, true
		}
		return FileInfo{}, "", false
	}

	if errors.Is(err, ErrFileNotFound) {
		htmlPath := path + ".html"
		if fi2, err2 := ex.fileOpener.Stat(htmlPath); err2 == nil && !fi2.IsDir {
			return fi2, htmlPath, true
		}
	}
	return FileInfo{}, "", false
}

// respondWithFile performs cool-URL resolution and conditional GET. It
// always writes a full response (including the 304/412/404 cases, the
// not-found one via Fail) and always returns true.
func (ex *Exchange) respondWithFile() bool {
	path := ex.response.BodyFile

	info, resolved, found := ex.resolveFile(path)
	if !found {
		ex.mu.Lock()
		ex.stage = StageReady // allow Fail to run its own respond
		ex.mu.Unlock()
		ex.Fail(404, NewError(KindNotFound, "no file found for %s", path))
		return true
	}

	ex.response.Headers.set("content-length", strconv.FormatInt(info.Size, 10))
	lastModified := info.ModTime
	ex.response.Headers.set("last-modified", formatHTTPDate(lastModified))
	ex.response.headerSetIfAbsent("content-type", mediaTypeForExtension(resolved))

	if ims := ex.Request.Headers.Get("if-modified-since"); ims != "" {
		if validator, ok := parseHTTPDate(ims); ok {
			if !lastModified.After(validator) {
				ex.harden()
				ex.response.Status = 304
				ex.writer.WriteHeader(304, ex.response.Headers)
				ex.Flush()
				return true
			}
		}
	}
	if ius := ex.Request.Headers.Get("if-unmodified-since"); ius != "" {
		if validator, ok := parseHTTPDate(ius); ok {
			if lastModified.After(validator) {
				ex.harden()
				ex.response.Status = 412
				ex.writer.WriteHeader(412, ex.response.Headers)
				ex.Flush()
				return true
			}
		}
	}

	f, err := ex.fileOpener.Open(resolved)
	if err != nil {
		ex.mu.Lock()
		ex.stage = StageReady
		ex.mu.Unlock()
		ex.Fail(500, err)
		return true
	}
	defer f.Close()

	ex.harden()
	ex.writer.WriteHeader(ex.response.Status, ex.response.Headers)
	io.Copy(ex.writer, f)
	ex.Flush()
	return true
}

func (ex *Exchange) writeBody() {
	switch ex.response.BodyKind {
	case BodyNone:
		return
	case BodyBytes:
		ex.writer.Write(ex.response.BodyBytes)
	case BodyText:
		ex.writer.Write([]byte(ex.response.BodyText))
	case BodyStream:
		io.Copy(ex.writer, ex.response.BodyStream)
	}
}
