package page

// bindingName is the Runtime binding the helper namespace calls back on.
const bindingName = "__ampdeckEmit__"

// helperScript installs the in-page helper namespace. Installation is
// idempotent: re-evaluating after a soft navigation is a no-op while the
// namespace survives, and a fresh document gets a fresh install via
// Page.addScriptToEvaluateOnNewDocument.
const helperScript = `
(() => {
  if (window.__ampdeck__) return;
  const A = {};

  const emit = (obj) => {
    try {
      if (typeof window.__ampdeckEmit__ === 'function') window.__ampdeckEmit__(JSON.stringify(obj));
    } catch (e) {}
  };

  A.find = (sels) => {
    for (const s of sels) {
      try {
        const el = document.querySelector(s);
        if (el) return el;
      } catch (e) {}
    }
    return null;
  };

  A.capture = (sels) => {
    const el = A.find(sels);
    if (!el) return null;
    const attrs = {};
    for (const a of el.attributes) attrs[a.name] = a.value;
    return { text: (el.textContent || '').trim(), attrs, classes: Array.from(el.classList) };
  };

  A.clickEl = (el) => {
    if (!el) return false;
    try { el.scrollIntoView({ block: 'center', inline: 'nearest' }); } catch (e) {}
    try {
      for (const type of ['pointerdown', 'mousedown', 'mouseup', 'click'])
        el.dispatchEvent(new MouseEvent(type, { bubbles: true, cancelable: true, view: window }));
      return true;
    } catch (e) {
      try { el.click(); return true; } catch (e2) {}
    }
    return false;
  };

  A.click = (sels) => A.clickEl(A.find(sels));

  A.press = (key) => {
    window.dispatchEvent(new KeyboardEvent('keydown', { key, code: key }));
    return true;
  };

  const rowAnchor = (node, anchorSels) => {
    for (const s of anchorSels) {
      try {
        const a = node.querySelector(s);
        if (a) return a;
      } catch (e) {}
    }
    return null;
  };

  A.rows = (rowSel, anchorSels, dataAttr) =>
    Array.from(document.querySelectorAll(rowSel)).map((node) => {
      const a = rowAnchor(node, anchorSels);
      return {
        titleAttr: (a && a.getAttribute('title')) || '',
        text: ((a && a.textContent) || node.textContent || '').trim(),
        href: (a && a.getAttribute('href')) || '',
        dataId: node.getAttribute(dataAttr) || (a && a.getAttribute(dataAttr)) || '',
        selected: node.hasAttribute('selected'),
        classes: Array.from(node.classList),
        ariaCurrent: (a && a.getAttribute('aria-current')) || node.getAttribute('aria-current') || '',
      };
    });

  A.clickRow = (rowSel, anchorSels, index) => {
    const nodes = document.querySelectorAll(rowSel);
    if (index < 0 || index >= nodes.length) return false;
    const a = rowAnchor(nodes[index], anchorSels);
    return A.clickEl(a || nodes[index]);
  };

  let rootSeq = 0;
  A.rootId = (sel) => {
    const el = document.querySelector(sel);
    if (!el) return '';
    if (!el.dataset.ampdeckRoot) el.dataset.ampdeckRoot = 'r' + (++rootSeq) + '-' + Date.now();
    return el.dataset.ampdeckRoot;
  };

  const watchers = {};
  A.watch = (rootId, attrs) => {
    const el = document.querySelector('[data-ampdeck-root="' + rootId + '"]');
    if (!el) return false;
    A.unwatch(rootId);
    const obs = new MutationObserver(() => emit({ kind: 'mutation', root: rootId }));
    obs.observe(el, { childList: true, subtree: true, attributes: true, attributeFilter: attrs });
    watchers[rootId] = obs;
    return true;
  };
  A.unwatch = (rootId) => {
    const obs = watchers[rootId];
    if (obs) { obs.disconnect(); delete watchers[rootId]; }
  };

  let mediaSeq = 0;
  A.mediaEl = () => document.querySelector('video, audio');
  A.media = () => {
    const el = A.mediaEl();
    if (!el) return null;
    if (!el.dataset.ampdeckMedia) el.dataset.ampdeckMedia = 'm' + (++mediaSeq) + '-' + Date.now();
    return {
      id: el.dataset.ampdeckMedia,
      currentTime: el.currentTime || 0,
      duration: isFinite(el.duration) ? el.duration : 0,
      paused: !!el.paused,
      volume: el.volume,
    };
  };
  A.mediaSeek = (t) => { const el = A.mediaEl(); if (!el) return false; el.currentTime = t; return true; };
  A.mediaVolume = (v) => { const el = A.mediaEl(); if (!el) return false; el.volume = v; return true; };
  A.mediaPlay = () => { const el = A.mediaEl(); if (!el) return false; if (el.paused) el.play().catch(() => {}); return true; };
  A.mediaPause = () => { const el = A.mediaEl(); if (!el) return false; if (!el.paused) el.pause(); return true; };

  const mediaBindings = {};
  A.bindMedia = (id) => {
    const el = A.mediaEl();
    if (!el || el.dataset.ampdeckMedia !== id) return false;
    A.unbindMedia(id);
    const fns = {};
    for (const ev of ['timeupdate', 'play', 'pause']) {
      fns[ev] = () => emit({ kind: 'media', id, event: ev });
      el.addEventListener(ev, fns[ev]);
    }
    mediaBindings[id] = { el, fns };
    return true;
  };
  A.unbindMedia = (id) => {
    const b = mediaBindings[id];
    if (!b) return;
    for (const ev of Object.keys(b.fns)) b.el.removeEventListener(ev, b.fns[ev]);
    delete mediaBindings[id];
  };

  // One audio context and analyser per page, one source node per element.
  // The analyser stays connected to the destination so tapping never mutes
  // playback.
  const audio = { ctx: null, analyser: null, source: null, attachedId: '', data: null };
  A.audioBuild = () => {
    const m = A.media();
    if (!m) return { error: 'no media element' };
    const el = A.mediaEl();
    try {
      if (!audio.ctx) audio.ctx = new (window.AudioContext || window.webkitAudioContext)();
      if (audio.ctx.state === 'suspended') audio.ctx.resume().catch(() => {});
      if (!audio.analyser) {
        audio.analyser = audio.ctx.createAnalyser();
        audio.analyser.fftSize = 2048;
        audio.analyser.smoothingTimeConstant = 0.8;
        audio.analyser.connect(audio.ctx.destination);
      }
      if (audio.attachedId !== m.id) {
        try { if (audio.source) audio.source.disconnect(); } catch (e) {}
        audio.source = audio.ctx.createMediaElementSource(el);
        audio.source.connect(audio.analyser);
        audio.attachedId = m.id;
        audio.data = new Uint8Array(audio.analyser.frequencyBinCount);
      }
      return { id: audio.attachedId };
    } catch (e) {
      return { error: String((e && e.message) || e) };
    }
  };
  A.audioData = () => {
    if (!audio.analyser || !audio.data) return null;
    audio.analyser.getByteFrequencyData(audio.data);
    return Array.from(audio.data);
  };
  A.audioClose = () => {
    try { if (audio.source) audio.source.disconnect(); } catch (e) {}
    try { if (audio.analyser) audio.analyser.disconnect(); } catch (e) {}
    try { if (audio.ctx) audio.ctx.close(); } catch (e) {}
    audio.ctx = null; audio.analyser = null; audio.source = null; audio.attachedId = ''; audio.data = null;
    return true;
  };

  window.__ampdeck__ = A;
})();
`
