// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer は作業項目の説明とコメントに含まれるHTMLを許可リストで無害化する。
// LinkValidator は添付リンクのURLを静的に検証する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はユーザー入力のサニタイズ機能のインターフェース。
type ContentSanitizer interface {
	// RichText は説明・コメント用のHTMLをサニタイズする。
	// 見出し、段落、リスト、引用、コード、強調、リンクのみを通過させる。
	RichText(raw string) string
	// PlainText はタイトルや名前などの単一行フィールドからタグをすべて除去する。
	PlainText(raw string) string
}

// contentSanitizer はContentSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// リッチテキストのポリシー:
//   - 許可タグ: h1〜h3, p, br, ul, ol, li, blockquote, pre, code, strong, em, s, u, a
//   - aタグ: http, https, mailtoのhrefのみ、target="_blank"とrel="noopener noreferrer"を付与
//   - script, iframe, style, img, on*イベント属性はすべて除去
func NewContentSanitizer() *contentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"h1", "h2", "h3", "p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "s", "u",
	)
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.RequireParseableURLs(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		rich:   rich,
		strict: bluemonday.StrictPolicy(),
	}
}

// RichText は説明・コメント用のHTMLをサニタイズする。
func (s *contentSanitizer) RichText(raw string) string {
	return s.rich.Sanitize(raw)
}

// PlainText はタグを除去し、前後の空白を取り除く。
func (s *contentSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(s.strict.Sanitize(raw))
}

// compile-time interface check
var _ ContentSanitizer = (*contentSanitizer)(nil)
