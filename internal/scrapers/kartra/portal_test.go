package kartra

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

const testCourse = "C1"

const indexHtml = `<html><head><title>Course C1</title></head><body>
<ul class="nav list-unstyled">
	<li class="dropdown">
		<a class="dropdown-toggle" href="#">Category A</a>
		<ul class="dropdown-menu">
			<li><a href="/portal/C1/post/42">Direct Post</a></li>
			<li><a href="/portal/C1/subcategory/10">Sub B</a></li>
		</ul>
	</li>
	<li class="dropdown">
		<a class="dropdown-toggle" href="#">  Category   Z </a>
		<ul class="dropdown-menu">
			<li><a href="/portal/C1/subcategory/11">Sub Y</a></li>
			<li><a href="/portal/C1/subcategory/12">Gone</a></li>
		</ul>
	</li>
</ul>
<script>
	var recent = ["/portal/C1/post/77", "/portal/C1/post/42", "/portal/OTHER/post/99"];
</script>
</body></html>`

const subcategory10Html = `<html><head><title>Sub B</title></head><body>
<ul>
	<li><a href="/portal/C1/post/43">Lesson 43</a></li>
	<li><a href="/portal/C1/post/42">Direct Post Again</a></li>
</ul>
<div data-next="/portal/C1/post/46"></div>
</body></html>`

const subcategory11Html = `<html><head><title>Sub Y</title></head><body>
<ul>
	<li><a href="/portal/C1/post/46">Lesson 46</a></li>
	<li><a href="https://elsewhere.example/about">About</a></li>
</ul>
</body></html>`

const notFoundHtml = `<html><head><title>404 - Page Not Found</title></head><body>gone</body></html>`

func postHtml(title, category, subcategory, body string) string {
	return fmt.Sprintf(`<html><head><title>%s</title></head><body>
<ul class="nav list-unstyled">
	<li class="dropdown"><a href="#">Other</a></li>
	<li class="dropdown active"><a href="#">%s</a></li>
</ul>
<div class="panel panel-blank menu_box"><div class="panel-heading"><h2>%s</h2></div></div>
<div class="panel panel-kartra">
	<div class="panel-heading"><h1>%s</h1></div>
	<div class="panel-body">%s</div>
</div>
</body></html>`, title, category, subcategory, title, body)
}

var postPages = map[string]string{
	"/portal/C1/post/42": postHtml("Direct Post", "Category A", "Category A",
		`<iframe src="https://player.vimeo.com/video/123456?h=abc"></iframe>`),
	"/portal/C1/post/43": postHtml("Lesson 43", "Category A", "Sub B", `<p>reading only</p>`),
	"/portal/C1/post/77": postHtml("Hidden Lesson", "Category Z", "Sub Y",
		`<p>watch at https://vimeo.com/555777</p>`),
}

// portal is a fake membership site, pages need the session=good cookie.
type portal struct {
	*httptest.Server

	mutex sync.Mutex
	hits  map[string]int
}

func newPortal(t *testing.T) *portal {
	p := &portal{hits: map[string]int{}}
	mux := http.NewServeMux()

	authed := func(req *http.Request) bool {
		c, err := req.Cookie("session")
		return err == nil && c.Value == "good"
	}
	page := func(path, contents string, status int) {
		mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
			p.mutex.Lock()
			p.hits[req.URL.Path]++
			p.mutex.Unlock()
			if !authed(req) {
				http.Redirect(w, req, "/login", http.StatusFound)
				return
			}
			if path == "/portal/C1/subcategory/11" {
				// server side session reset
				http.SetCookie(w, &http.Cookie{Name: "session", Value: "", Path: "/", MaxAge: -1})
			}
			w.Header().Set("content-type", "text/html")
			w.WriteHeader(status)
			fmt.Fprint(w, contents)
		})
	}

	mux.HandleFunc("/{$}", func(w http.ResponseWriter, req *http.Request) {
		if authed(req) {
			http.Redirect(w, req, "/dashboard", http.StatusFound)
			return
		}
		http.Redirect(w, req, "/login", http.StatusFound)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, "<html><title>Login</title></html>")
	})
	page("/dashboard", "<html><title>Dashboard</title></html>", http.StatusOK)
	page("/portal/C1/index", indexHtml, http.StatusOK)
	page("/portal/C1/subcategory/10", subcategory10Html, http.StatusOK)
	page("/portal/C1/subcategory/11", subcategory11Html, http.StatusOK)
	page("/portal/C1/subcategory/12", notFoundHtml, http.StatusOK)
	page("/portal/C1/post/999", notFoundHtml, http.StatusNotFound)
	for path, contents := range postPages {
		page(path, contents, http.StatusOK)
	}

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *portal) hitCount(path string) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.hits[path]
}
