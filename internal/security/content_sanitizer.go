// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は運営が投入するアヒルの物語・説明文をサニタイズする。
// フロントエンドは物語をHTMLとして描画するため、許可リストベースのポリシーで
// 改行と強調、https画像、外部リンクのみを通過させる。
package security

import (
	"net/url"
	"strings"

	"github.com/hitoshi/cyberduck/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はコンテンツのサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// SanitizeRich は物語などHTMLとして描画されるテキストをサニタイズする。
	SanitizeRich(raw string) string
	// SanitizePlain はタイトルなどプレーンテキストとして扱うべき値からタグをすべて除去する。
	SanitizePlain(raw string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type contentSanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// リッチテキストのポリシー:
//   - 許可タグ: p, br, strong, em, ul, ol, li, a, img
//   - imgのsrc、aのhref: httpsスキームのみ
//   - aタグ: target="_blank" と rel="noopener noreferrer" を自動付与
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "strong", "em", "ul", "ol", "li")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{
		rich:  p,
		plain: bluemonday.StrictPolicy(),
	}
}

// SanitizeRich はリッチテキストをサニタイズする。前後の空白は除去する。
func (s *contentSanitizer) SanitizeRich(raw string) string {
	return strings.TrimSpace(s.rich.Sanitize(raw))
}

// SanitizePlain はタグをすべて除去する。
// StrictPolicyは&などをエスケープするため、プレーンテキストとして戻す。
func (s *contentSanitizer) SanitizePlain(raw string) string {
	cleaned := s.plain.Sanitize(raw)
	return strings.TrimSpace(plainReplacer.Replace(cleaned))
}

var plainReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&#34;", `"`,
	"&#39;", "'",
)

// SanitizeBilingual は対訳テキストの両言語にfnを適用する。
func SanitizeBilingual(b model.Bilingual, fn func(string) string) model.Bilingual {
	return model.Bilingual{EN: fn(b.EN), CN: fn(b.CN)}
}
